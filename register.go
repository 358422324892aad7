package main

import (
	"github.com/rs/zerolog/log"

	"github.com/LinkesAuge/Bot-worldscan-sub000/worldnav"
)

func registerAll() {
	worldnav.Register()

	log.Info().
		Msg("All custom components registered successfully")
}

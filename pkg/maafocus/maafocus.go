// Package maafocus shows short progress messages in the MaaFramework client.
package maafocus

import (
	"errors"
	"fmt"

	"github.com/MaaXYZ/maa-framework-go/v4"
	"github.com/rs/zerolog/log"
)

// focusNode is an empty node whose only job is to emit a focus event.
const focusNode = "_WORLDSCAN_FOCUS_"

var ErrNilContext = errors.New("context is nil")

// Show displays content when the focus node's action starts.
func Show(ctx *maa.Context, content string) error {
	if ctx == nil {
		return ErrNilContext
	}

	pp := maa.NewPipeline()
	pp.AddNode(maa.NewNode(focusNode,
		maa.WithFocus(map[string]any{
			maa.EventNodeAction.Starting(): content,
		}),
		maa.WithPreDelay(0),
		maa.WithPostDelay(0),
	))
	if _, err := ctx.RunTask(focusNode, pp); err != nil {
		return fmt.Errorf("focus %q: %w", content, err)
	}
	return nil
}

// Showf formats and shows a message. Failures are only logged; progress text
// must never stop the caller.
func Showf(ctx *maa.Context, format string, args ...any) {
	if err := Show(ctx, fmt.Sprintf(format, args...)); err != nil {
		log.Debug().Err(err).Msg("[Focus] failed to show message")
	}
}

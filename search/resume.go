package search

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/bytedance/sonic"

	"github.com/LinkesAuge/Bot-worldscan-sub000/pattern"
	"github.com/LinkesAuge/Bot-worldscan-sub000/pkg/worldpos"
)

const resumeVersion = 1

// Resume is the part of a request needed to continue a paused search.
type Resume struct {
	Version   int               `json:"v"`
	Pattern   pattern.Params    `json:"pattern"`
	Templates []string          `json:"templates"`
	Origin    worldpos.Position `json:"origin"`
	Bounds    worldpos.Area     `json:"bounds"`
	Cursor    int               `json:"cursor"`
}

// ResumeFrom captures where out left req.
func ResumeFrom(req Request, out Outcome) Resume {
	return Resume{
		Version:   resumeVersion,
		Pattern:   req.Pattern,
		Templates: req.Templates,
		Origin:    req.Origin,
		Bounds:    req.Bounds,
		Cursor:    out.Cursor,
	}
}

// Apply copies the resumed fields onto req, keeping req's limits.
func (r Resume) Apply(req Request) Request {
	req.Pattern = r.Pattern
	req.Templates = r.Templates
	req.Origin = r.Origin
	req.Bounds = r.Bounds
	req.Cursor = r.Cursor
	return req
}

var resumeEncoding = base64.URLEncoding.WithPadding(base64.NoPadding)

// EncodeResume packs r as URL-safe Base64 of gzip compressed JSON.
func EncodeResume(r Resume) (string, error) {
	r.Version = resumeVersion
	data, err := sonic.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal resume: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return "", fmt.Errorf("failed to compress resume: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("failed to compress resume: %w", err)
	}

	return resumeEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeResume reverses EncodeResume.
func DecodeResume(token string) (Resume, error) {
	if token == "" {
		return Resume{}, fmt.Errorf("resume token is empty")
	}

	raw, err := resumeEncoding.DecodeString(token)
	if err != nil {
		return Resume{}, fmt.Errorf("failed to decode Base64: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return Resume{}, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return Resume{}, fmt.Errorf("failed to decompress gzip: %w", err)
	}

	var r Resume
	if err := sonic.Unmarshal(data, &r); err != nil {
		return Resume{}, fmt.Errorf("failed to unmarshal resume: %w", err)
	}
	if r.Version != resumeVersion {
		return Resume{}, fmt.Errorf("unsupported resume version %d", r.Version)
	}
	if r.Cursor < 0 {
		return Resume{}, fmt.Errorf("invalid resume cursor %d", r.Cursor)
	}
	return r, nil
}

package generation

import (
	"fmt"
	"strings"

	"atelier/internal/capability"
)

// Parameter defaults applied when a field is left zero.
const (
	DefaultSteps         = 20
	DefaultGuidanceScale = 7.5
	DefaultSize          = 512

	maxSteps = 150
)

// supportedSizes is the per-side pixel set the diffusion engine accepts.
var supportedSizes = map[int]struct{}{
	256: {},
	384: {},
	512: {},
	640: {},
	768: {},
}

// SupportedSizes returns the accepted per-side sizes in ascending order.
func SupportedSizes() []int {
	return []int{256, 384, 512, 640, 768}
}

// Params describes one generation request.
type Params struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Steps          int     `json:"steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Seed           int64   `json:"seed"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
}

// withDefaults validates the request and fills zero fields, returning the
// normalized copy. Validation failures happen before any engine call.
func (p Params) withDefaults() (Params, error) {
	out := p
	out.Prompt = strings.TrimSpace(p.Prompt)
	if out.Prompt == "" {
		return Params{}, capability.Wrap(capability.ErrInvalidParams, "generation", "generate", "prompt is required", nil)
	}

	if out.Steps == 0 {
		out.Steps = DefaultSteps
	}
	if out.Steps < 1 || out.Steps > maxSteps {
		return Params{}, capability.Wrap(capability.ErrInvalidParams, "generation", "generate",
			fmt.Sprintf("steps %d outside range 1-%d", out.Steps, maxSteps), nil)
	}

	if out.GuidanceScale == 0 {
		out.GuidanceScale = DefaultGuidanceScale
	}
	if out.GuidanceScale < 1 || out.GuidanceScale > 30 {
		return Params{}, capability.Wrap(capability.ErrInvalidParams, "generation", "generate",
			fmt.Sprintf("guidance scale %.1f outside range 1-30", out.GuidanceScale), nil)
	}

	if out.Width == 0 {
		out.Width = DefaultSize
	}
	if out.Height == 0 {
		out.Height = DefaultSize
	}
	if _, ok := supportedSizes[out.Width]; !ok {
		return Params{}, capability.Wrap(capability.ErrInvalidParams, "generation", "generate",
			fmt.Sprintf("width %d not in supported set %v", out.Width, SupportedSizes()), nil)
	}
	if _, ok := supportedSizes[out.Height]; !ok {
		return Params{}, capability.Wrap(capability.ErrInvalidParams, "generation", "generate",
			fmt.Sprintf("height %d not in supported set %v", out.Height, SupportedSizes()), nil)
	}

	return out, nil
}

func (p Params) startParams() capability.StartParams {
	return capability.StartParams{
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Steps:          p.Steps,
		GuidanceScale:  p.GuidanceScale,
		Seed:           p.Seed,
		Width:          p.Width,
		Height:         p.Height,
	}
}

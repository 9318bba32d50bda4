// Package sdcli adapts the stable-diffusion command line engine to the
// generation gateway surface. Each job runs the binary once; progress is
// parsed from the sampler's step counter on the combined output, and the
// finished image is recorded in the artifact store before the completion
// event fires.
package sdcli

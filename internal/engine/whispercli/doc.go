// Package whispercli adapts the whisper-stream command line engine to the
// capability gateway surface. The engine runs as a child process and reports
// partial and final hypotheses as JSON lines on stdout; stopping the process
// with SIGINT makes it flush a final hypothesis before exiting, while SIGKILL
// discards the run.
package whispercli

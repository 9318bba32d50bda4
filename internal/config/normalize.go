package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeSpeech(); err != nil {
		return err
	}
	if err := c.normalizeGeneration(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtifactsDir) == "" {
		c.Paths.ArtifactsDir = defaultArtifactsDir
	}
	if c.Paths.ArtifactsDir, err = expandPath(c.Paths.ArtifactsDir); err != nil {
		return fmt.Errorf("paths.artifacts_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ModelsDir) == "" {
		c.Paths.ModelsDir = defaultModelsDir
	}
	if c.Paths.ModelsDir, err = expandPath(c.Paths.ModelsDir); err != nil {
		return fmt.Errorf("paths.models_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSpeech() error {
	c.Speech.Binary = strings.TrimSpace(c.Speech.Binary)
	if c.Speech.Binary == "" {
		c.Speech.Binary = defaultSpeechBinary
	}
	c.Speech.Language = strings.TrimSpace(c.Speech.Language)
	if c.Speech.Language == "" {
		c.Speech.Language = defaultSpeechLanguage
	}
	c.Speech.AudioDevice = strings.TrimSpace(c.Speech.AudioDevice)
	if c.Speech.AudioDevice == "" {
		c.Speech.AudioDevice = defaultAudioDevice
	}
	if c.Speech.SampleRate == 0 {
		c.Speech.SampleRate = defaultSampleRate
	}
	if c.Speech.ModelPath != "" {
		expanded, err := expandPath(c.Speech.ModelPath)
		if err != nil {
			return fmt.Errorf("speech.model_path: %w", err)
		}
		c.Speech.ModelPath = expanded
	}
	return nil
}

func (c *Config) normalizeGeneration() error {
	c.Generation.Binary = strings.TrimSpace(c.Generation.Binary)
	if c.Generation.Binary == "" {
		c.Generation.Binary = defaultGenBinary
	}
	if c.Generation.ModelPath != "" {
		expanded, err := expandPath(c.Generation.ModelPath)
		if err != nil {
			return fmt.Errorf("generation.model_path: %w", err)
		}
		c.Generation.ModelPath = expanded
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

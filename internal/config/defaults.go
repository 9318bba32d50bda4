package config

const (
	defaultLogDir         = "~/.local/share/atelier/logs"
	defaultArtifactsDir   = "~/.local/share/atelier/artifacts"
	defaultModelsDir      = "~/.local/share/atelier/models"
	defaultSpeechBinary   = "whisper-stream"
	defaultSpeechLanguage = "en"
	defaultAudioDevice    = "default"
	defaultSampleRate     = 16000
	defaultGenBinary      = "sd"
	defaultGenThreads     = 0
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultNotifyTimeout  = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:       defaultLogDir,
			ArtifactsDir: defaultArtifactsDir,
			ModelsDir:    defaultModelsDir,
		},
		Speech: Speech{
			Binary:      defaultSpeechBinary,
			Language:    defaultSpeechLanguage,
			AudioDevice: defaultAudioDevice,
			SampleRate:  defaultSampleRate,
		},
		Generation: Generation{
			Binary:  defaultGenBinary,
			Threads: defaultGenThreads,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Generation:     true,
			Transcription:  false,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

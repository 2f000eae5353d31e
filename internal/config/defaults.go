package config

const (
	defaultWorkspaceDir        = "~/.local/share/videos2pdf/sessions"
	defaultOutputDir           = "~/Documents/videos2pdf"
	defaultStateDir            = "~/.local/share/videos2pdf"
	defaultLogDir              = "~/.local/share/videos2pdf/logs"
	defaultFFmpeg              = "ffmpeg"
	defaultFFprobe             = "ffprobe"
	defaultDensity             = 0.5
	defaultBlurThreshold       = 0.3
	defaultMotionBlurThreshold = 0.5
	defaultDuplicateSimilarity = 0.9
	defaultVarianceScale       = 5000
	defaultPixelStride         = 10
	defaultGridSize            = 8
	defaultThumbnailMaxEdge    = 2000
	defaultPreset              = "balanced"
	defaultPageSize            = "auto"
	defaultFilenameStem        = "scan"
	defaultMinFreeMiB          = 64
	defaultMaxPages            = 1000
	defaultMinRecordFreeMiB    = 256
	defaultMinTrimMillis       = 2000
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkspaceDir: defaultWorkspaceDir,
			OutputDir:    defaultOutputDir,
			StateDir:     defaultStateDir,
			LogDir:       defaultLogDir,
		},
		Tools: Tools{
			FFmpeg:  defaultFFmpeg,
			FFprobe: defaultFFprobe,
		},
		Detection: Detection{
			Density:             defaultDensity,
			BlurThreshold:       defaultBlurThreshold,
			MotionBlurThreshold: defaultMotionBlurThreshold,
			DuplicateSimilarity: defaultDuplicateSimilarity,
			VarianceScale:       defaultVarianceScale,
			PixelStride:         defaultPixelStride,
			GridSize:            defaultGridSize,
			ThumbnailMaxEdge:    defaultThumbnailMaxEdge,
		},
		Export: Export{
			Preset:       defaultPreset,
			PageSize:     defaultPageSize,
			FilenameStem: defaultFilenameStem,
			MinFreeMiB:   defaultMinFreeMiB,
			MaxPages:     defaultMaxPages,
		},
		Session: Session{
			MinTrimMillis:    defaultMinTrimMillis,
			MinRecordFreeMiB: defaultMinRecordFreeMiB,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

package config

// PRNU residual denoisers
const (
	DenoiserWavelet  = "wavelet"  // Daubechies-2 wavelet shrinkage (default)
	DenoiserGaussian = "gaussian" // 5x5 Gaussian blur
)

// ValidDenoisers contains the supported PRNU residual denoisers.
var ValidDenoisers = []string{DenoiserWavelet, DenoiserGaussian}

// DefaultDenoiser is the default residual denoiser.
const DefaultDenoiser = DenoiserWavelet

// ValidLogFormats contains the supported log handler formats.
var ValidLogFormats = []string{"text", "json"}

// IsValidDenoiser returns true if the denoiser name is valid.
func IsValidDenoiser(name string) bool {
	return contains(ValidDenoisers, name)
}

// ValidateDenoiser returns the denoiser if valid, or the default if invalid.
func ValidateDenoiser(name string) string {
	if IsValidDenoiser(name) {
		return name
	}
	return DefaultDenoiser
}

// IsValidLogFormat returns true if the log format is supported.
func IsValidLogFormat(format string) bool {
	return contains(ValidLogFormats, format)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if s == v {
			return true
		}
	}
	return false
}

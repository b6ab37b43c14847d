package model

import (
	"log/slog"

	ort "github.com/yalue/onnxruntime_go"
)

// sessionOptions builds ONNX Runtime session options for the configured
// device and reports the placement actually in effect. When the CUDA
// provider cannot be appended the session falls back to CPU.
func sessionOptions(device string) (*ort.SessionOptions, string, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, "", err
	}
	if device == "cuda" || device == "auto" || device == "" {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err == nil {
			err = opts.AppendExecutionProviderCUDA(cudaOpts)
			cudaOpts.Destroy()
			if err == nil {
				return opts, "cuda", nil
			}
		}
		slog.Warn("CUDA execution provider unavailable, using CPU", slog.String("error", err.Error()))
	}
	return opts, "cpu", nil
}

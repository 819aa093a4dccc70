package protocol

// FLConfig provides the model configuration shared by clients and the
// aggregator.
type FLConfig struct {
	// InputDim is the number of input features (weight matrix rows).
	InputDim int `json:"input_dim" yaml:"input_dim"`

	// OutputDim is the number of classes (weight matrix columns, bias length).
	OutputDim int `json:"output_dim" yaml:"output_dim"`

	// LearningRate is the local gradient descent step size.
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`

	// LocalEpochs is the number of full-batch steps a client takes per round.
	LocalEpochs int `json:"local_epochs" yaml:"local_epochs"`

	// Seed makes the initial global parameters reproducible.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// DefaultFLConfig returns a small configuration suitable for the demo.
func DefaultFLConfig() *FLConfig {
	return &FLConfig{
		InputDim:     16,
		OutputDim:    4,
		LearningRate: 0.5,
		LocalEpochs:  1,
		Seed:         1,
	}
}

package logging

// Attribute keys shared by the ML components. Keys are hierarchical so
// log lines from different pipelines can be filtered the same way.
const (
	ComponentKey = "ml.component"
	OperationKey = "ml.operation"
	ModelNameKey = "model.name"
	RunIDKey     = "run.id"

	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	SplitKey    = "data.split"
	PathKey     = "data.path"

	EpochKey = "train.epoch"
	StepKey  = "train.step"
	LossKey  = "train.loss"
)

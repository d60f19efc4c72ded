package model

// Feature identifies a metered operation. Each feature maps to exactly one
// upstream service and a fixed credit cost.
type Feature string

const (
	FeatureAnalyze  Feature = "analyze"
	FeatureExplain  Feature = "explain"
	FeatureOptimize Feature = "optimize"
	FeatureGenerate Feature = "generate"
	FeatureExecute  Feature = "execute"
)

// Service names for the key pool and credential map.
const (
	ServiceGemini = "gemini"
	ServiceJudge0 = "judge0"
)

// Service returns the upstream service the feature is billed against.
func (f Feature) Service() string {
	if f == FeatureExecute {
		return ServiceJudge0
	}
	return ServiceGemini
}

// Cost returns the credit cost of one invocation of the feature.
func (f Feature) Cost() int64 {
	if f == FeatureGenerate {
		return 2
	}
	return 1
}

// Valid reports whether f is a known metered feature.
func (f Feature) Valid() bool {
	switch f {
	case FeatureAnalyze, FeatureExplain, FeatureOptimize, FeatureGenerate, FeatureExecute:
		return true
	}
	return false
}

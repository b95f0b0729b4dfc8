package runsummary

import (
	"github.com/meridianci/meridian/internal/fs"
	"github.com/meridianci/meridian/internal/turbopath"
)

// GlobalHashSummary contains the pieces of data that fed into the global
// hash, and therefore into every task's hash by way of the Task Hasher.
type GlobalHashSummary struct {
	GlobalCacheKey       string                                 `json:"rootKey"`
	GlobalFileHashMap    map[turbopath.AnchoredUnixPath]string `json:"files"`
	RootExternalDepsHash string                                 `json:"hashOfExternalDependencies"`
	Pipeline             fs.Pipeline                            `json:"rootPipeline"`
}

// NewGlobalHashSummary builds a GlobalHashSummary from the pieces that were
// hashed together to produce a run's global hash.
func NewGlobalHashSummary(
	fileHashMap map[turbopath.AnchoredUnixPath]string,
	rootExternalDepsHash string,
	globalCacheKey string,
	pipeline fs.Pipeline,
) *GlobalHashSummary {
	return &GlobalHashSummary{
		GlobalFileHashMap:    fileHashMap,
		RootExternalDepsHash: rootExternalDepsHash,
		GlobalCacheKey:       globalCacheKey,
		Pipeline:             pipeline,
	}
}

package models

import (
	"github.com/quartzdata/foresight/pkg/pool"
)

// Record is a type alias for pool.Record, so model-level code can name rows
// without importing the pooling machinery.
type Record = pool.Record

// RecordMetadata is a type alias for pool.RecordMetadata.
type RecordMetadata = pool.RecordMetadata

// NewRecord creates a pooled record with the given source and data.
var NewRecord = pool.NewRecord

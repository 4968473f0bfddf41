package dynamodb

import (
	"fmt"
	"time"

	"github.com/dwsmith1983/tally/pkg/types"
)

// PK/SK prefix constants.
const (
	prefixEntity     = "ENTITY#"
	prefixDate       = "DATE#"
	prefixPub        = "PUB#"
	prefixCheckpoint = "CHECKPOINT#"

	pkEntities   = "ENTITIES"
	skCheckpoint = "CHECKPOINT"
)

func metricsPK(id types.EntityID) string { return prefixEntity + string(id) }
func metricsSK(date string) string       { return prefixDate + date }

func entitiesPK() string { return pkEntities }

// entitySK sorts entities by publication time, then ID.
func entitySK(publishedAt time.Time, id types.EntityID) string {
	return fmt.Sprintf("%s%015d#%s", prefixPub, publishedAt.UnixMilli(), id)
}

// entityCutoffSK is the largest sort key published at or before cutoff.
func entityCutoffSK(cutoff time.Time) string {
	return fmt.Sprintf("%s%015d#\uffff", prefixPub, cutoff.UnixMilli())
}

func checkpointPK(job string) string { return prefixCheckpoint + job }
func checkpointSK() string           { return skCheckpoint }

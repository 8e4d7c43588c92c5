// Package cluster partitions a batch of correction events by exact
// (issuer, field) key and groups each partition into similarity clusters.
package cluster

import (
	"go.uber.org/zap"

	"github.com/veridocs/correction-cli/internal/model"
	"github.com/veridocs/correction-cli/internal/similarity"
)

// Group is one similarity cluster: all members share an issuer and field and
// are similar to the cluster seed under the active threshold. Groups are
// in-memory, single-run artifacts.
type Group struct {
	IssuerID  string
	FieldName string
	Members   []model.CorrectionEvent
}

// Seed returns the first member, the event every other member was compared
// against.
func (g Group) Seed() model.CorrectionEvent {
	return g.Members[0]
}

type partitionKey struct {
	issuerID  string
	fieldName string
}

// GroupCorrections partitions events by (issuerID, fieldName) and clusters
// each partition. Events without an issuer cannot be attributed to a pattern
// and are dropped from this run; the count of dropped events is returned so
// the caller can leave them unanalyzed for retry. Given the same input order
// the output cluster membership is identical — partitions keep
// first-appearance order and clustering is seed-based.
func GroupCorrections(events []model.CorrectionEvent, threshold float64) ([]Group, int) {
	partitions := make(map[partitionKey][]model.CorrectionEvent)
	var keyOrder []partitionKey
	dropped := 0

	for _, e := range events {
		if e.IssuerID == "" {
			dropped++
			continue
		}
		k := partitionKey{e.IssuerID, e.FieldName}
		if _, seen := partitions[k]; !seen {
			keyOrder = append(keyOrder, k)
		}
		partitions[k] = append(partitions[k], e)
	}

	if dropped > 0 {
		zap.L().Debug("cluster: dropped unattributed events", zap.Int("count", dropped))
	}

	var groups []Group
	for _, k := range keyOrder {
		for _, members := range clusterPartition(partitions[k], threshold) {
			groups = append(groups, Group{
				IssuerID:  k.issuerID,
				FieldName: k.fieldName,
				Members:   members,
			})
		}
	}
	return groups, dropped
}

// clusterPartition groups events by greedy single-linkage against each
// cluster's seed: the first unassigned event opens a cluster and every later
// unassigned event similar to that seed joins it. Seed-based rather than
// transitive closure, so membership is reproducible for a given input order
// and the cost stays bounded at O(n²) comparisons. Singletons are valid
// clusters; every event lands in exactly one.
func clusterPartition(events []model.CorrectionEvent, threshold float64) [][]model.CorrectionEvent {
	assigned := make([]bool, len(events))
	var clusters [][]model.CorrectionEvent

	for i, seed := range events {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		members := []model.CorrectionEvent{seed}

		for j := i + 1; j < len(events); j++ {
			if assigned[j] {
				continue
			}
			if similarity.Similar(seed, events[j], threshold) {
				assigned[j] = true
				members = append(members, events[j])
			}
		}
		clusters = append(clusters, members)
	}
	return clusters
}

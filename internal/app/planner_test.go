package app

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/fieldsync/internal/domain"
)

func planOp(id, entity string, p domain.Priority, at time.Time) domain.Operation {
	return domain.Operation{ID: id, Kind: domain.KindUpdate, EntityType: entity, EntityID: id, Priority: p, EnqueuedAt: at}
}

func ids(batch []domain.Operation) []string {
	out := make([]string, len(batch))
	for i, op := range batch {
		out[i] = op.ID
	}
	return out
}

func TestPlanBatches_Empty(t *testing.T) {
	assert.Empty(t, PlanBatches(nil, 10, 5))
}

func TestPlanBatches_CriticalOrdering(t *testing.T) {
	ops := []domain.Operation{
		planOp("client-old", domain.EntityClient, domain.PriorityCritical, epoch),
		planOp("inv-old", domain.EntityInventory, domain.PriorityCritical, epoch),
		planOp("job-old", domain.EntityJob, domain.PriorityCritical, epoch),
		planOp("inv-new", domain.EntityInventory, domain.PriorityCritical, epoch.Add(time.Minute)),
		planOp("note", "note", domain.PriorityCritical, epoch.Add(2*time.Minute)),
	}

	plan := PlanBatches(ops, 10, 5)
	require.Len(t, plan, 1)
	assert.Equal(t, []string{"job-old", "inv-new", "inv-old", "client-old", "note"}, ids(plan[0]))
}

func TestPlanBatches_SameTimestampNewestEnqueuedFirst(t *testing.T) {
	ops := []domain.Operation{
		planOp("a", domain.EntityJob, domain.PriorityCritical, epoch),
		planOp("b", domain.EntityJob, domain.PriorityCritical, epoch),
		planOp("c", domain.EntityJob, domain.PriorityCritical, epoch),
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids(PlanBatches(ops, 10, 5)[0]))
}

func TestPlanBatches_Chunking(t *testing.T) {
	var ops []domain.Operation
	for i := 0; i < 7; i++ {
		ops = append(ops, planOp(fmt.Sprintf("c%d", i), domain.EntityJob, domain.PriorityCritical, epoch.Add(time.Duration(i)*time.Second)))
	}
	for i := 0; i < 4; i++ {
		ops = append(ops, planOp(fmt.Sprintf("l%d", i), domain.EntityJob, domain.PriorityLow, epoch))
		ops = append(ops, planOp(fmt.Sprintf("n%d", i), domain.EntityJob, domain.PriorityNormal, epoch))
	}

	plan := PlanBatches(ops, 3, 5)
	require.Len(t, plan, 2+3)
	assert.Len(t, plan[0], 5)
	assert.Len(t, plan[1], 2)
	assert.Equal(t, []string{"n0", "n1", "n2"}, ids(plan[2]))
	assert.Equal(t, []string{"n3", "l0", "l1"}, ids(plan[3]))
	assert.Equal(t, []string{"l2", "l3"}, ids(plan[4]))
}

func TestPlanBatches_PriorityNeverInverted(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	priorities := []domain.Priority{domain.PriorityCritical, domain.PriorityNormal, domain.PriorityLow}
	entities := []string{domain.EntityJob, domain.EntityInventory, domain.EntityRoute, domain.EntityClient, "note"}

	for round := 0; round < 200; round++ {
		n := rng.Intn(40)
		ops := make([]domain.Operation, n)
		for i := range ops {
			ops[i] = planOp(fmt.Sprintf("op-%d", i),
				entities[rng.Intn(len(entities))],
				priorities[rng.Intn(len(priorities))],
				epoch.Add(time.Duration(rng.Intn(5))*time.Second))
		}
		batchSize := 1 + rng.Intn(20)

		plan := PlanBatches(ops, batchSize, CriticalBatchSize)

		total := 0
		prevRank := domain.PriorityCritical.Rank()
		for _, batch := range plan {
			require.NotEmpty(t, batch)
			limit := batchSize
			if batch[0].Priority == domain.PriorityCritical {
				limit = CriticalBatchSize
			}
			require.LessOrEqual(t, len(batch), limit)
			for _, op := range batch {
				require.LessOrEqual(t, op.Priority.Rank(), prevRank, "round %d", round)
				prevRank = op.Priority.Rank()
			}
			total += len(batch)
		}
		require.Equal(t, n, total)
	}
}

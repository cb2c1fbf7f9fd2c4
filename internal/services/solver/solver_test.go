package solver_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/services/constraint"
	"github.com/gravelroot/dispatch-core/internal/services/solver"
	"github.com/gravelroot/dispatch-core/internal/services/traveltime"
)

var denver = traveltime.Coordinate{Latitude: 39.7392, Longitude: -104.9903}

func newSolver() *solver.Solver {
	oracle := traveltime.NewGreatCircleOracle(40, 5, 0)
	return solver.NewSolver(constraint.NewChecker(oracle))
}

func testDate() time.Time {
	return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
}

func techContext(id uuid.UUID, equipment []string) constraint.StaffContext {
	date := testDate()
	return constraint.StaffContext{
		StaffID:              id,
		Equipment:            equipment,
		StartLocation:        denver,
		WindowStart:          time.Date(date.Year(), date.Month(), date.Day(), 8, 0, 0, 0, time.UTC),
		WindowEnd:            time.Date(date.Year(), date.Month(), date.Day(), 17, 0, 0, 0, time.UTC),
		LunchStart:           time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, time.UTC),
		LunchDurationMinutes: 30,
	}
}

func winterization(id uuid.UUID) constraint.PlanJob {
	date := testDate()
	start := time.Date(date.Year(), date.Month(), date.Day(), 9, 0, 0, 0, time.UTC)
	end := time.Date(date.Year(), date.Month(), date.Day(), 16, 0, 0, 0, time.UTC)
	return constraint.PlanJob{
		JobID:              id,
		Category:           domain.CategorySeasonal,
		Priority:           domain.PriorityNormal,
		DurationMinutes:    60,
		RequiredEquipment:  []string{"compressor"},
		RequiredStaffCount: 1,
		PreferredStart:     &start,
		PreferredEnd:       &end,
		Location:           denver,
		City:               "Denver",
	}
}

// shortCtx bounds the improvement phase so tests stay fast; the parent
// deadline wins over the solver's own budget.
func shortCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestSolve_TwoStaffFourJobsAllAssigned(t *testing.T) {
	s := newSolver()
	staffA, staffB := uuid.New(), uuid.New()
	jobs := make(map[uuid.UUID]constraint.PlanJob, 4)
	for i := 0; i < 4; i++ {
		id := uuid.New()
		jobs[id] = winterization(id)
	}

	solution, err := s.Solve(shortCtx(t), solver.Input{
		Date: testDate(),
		Jobs: jobs,
		Staff: map[uuid.UUID]constraint.StaffContext{
			staffA: techContext(staffA, []string{"compressor"}),
			staffB: techContext(staffB, []string{"compressor"}),
		},
		Seed: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, solution.Hard)
	assert.Empty(t, solution.UnassignedJobs)

	// Every input job appears exactly once across assignments and
	// unassigned, and the two sets are disjoint.
	seen := make(map[uuid.UUID]int)
	for _, a := range solution.Assignments {
		seen[a.JobID]++
	}
	for _, u := range solution.UnassignedJobs {
		seen[u.JobID]++
	}
	assert.Len(t, seen, 4)
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s placed %d times", id, count)
	}
}

func TestSolve_ZeroJobsIsFeasible(t *testing.T) {
	s := newSolver()
	staffA := uuid.New()

	solution, err := s.Solve(shortCtx(t), solver.Input{
		Date:  testDate(),
		Jobs:  map[uuid.UUID]constraint.PlanJob{},
		Staff: map[uuid.UUID]constraint.StaffContext{staffA: techContext(staffA, nil)},
		Seed:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, solution.Hard)
	assert.Empty(t, solution.Assignments)
	assert.Empty(t, solution.UnassignedJobs)
}

func TestSolve_ZeroStaffLeavesAllUnassigned(t *testing.T) {
	s := newSolver()
	jobID := uuid.New()

	solution, err := s.Solve(shortCtx(t), solver.Input{
		Date:  testDate(),
		Jobs:  map[uuid.UUID]constraint.PlanJob{jobID: winterization(jobID)},
		Staff: map[uuid.UUID]constraint.StaffContext{},
		Seed:  1,
	})
	require.NoError(t, err)
	require.Len(t, solution.UnassignedJobs, 1)
	assert.Equal(t, constraint.ReasonNoStaff, solution.UnassignedJobs[0].Reason)
}

func TestSolve_NoEquipmentMatchReportsEquipment(t *testing.T) {
	s := newSolver()
	staffA := uuid.New()
	jobID := uuid.New()
	job := winterization(jobID)
	job.RequiredEquipment = []string{"backhoe"}

	solution, err := s.Solve(shortCtx(t), solver.Input{
		Date:  testDate(),
		Jobs:  map[uuid.UUID]constraint.PlanJob{jobID: job},
		Staff: map[uuid.UUID]constraint.StaffContext{staffA: techContext(staffA, []string{"compressor"})},
		Seed:  1,
	})
	require.NoError(t, err)
	require.Len(t, solution.UnassignedJobs, 1)
	assert.Equal(t, constraint.ReasonEquipment, solution.UnassignedJobs[0].Reason)
}

func TestSolve_OverlongJobReportsDuration(t *testing.T) {
	s := newSolver()
	staffA := uuid.New()
	jobID := uuid.New()
	job := winterization(jobID)
	job.RequiredEquipment = nil
	job.PreferredStart, job.PreferredEnd = nil, nil
	job.DurationMinutes = 10 * 60 // longer than any contiguous window

	solution, err := s.Solve(shortCtx(t), solver.Input{
		Date:  testDate(),
		Jobs:  map[uuid.UUID]constraint.PlanJob{jobID: job},
		Staff: map[uuid.UUID]constraint.StaffContext{staffA: techContext(staffA, nil)},
		Seed:  1,
	})
	require.NoError(t, err)
	require.Len(t, solution.UnassignedJobs, 1)
	assert.Equal(t, constraint.ReasonDuration, solution.UnassignedJobs[0].Reason)
}

func TestSolve_SeededRunsAreIdentical(t *testing.T) {
	staffA, staffB := uuid.New(), uuid.New()
	jobs := make(map[uuid.UUID]constraint.PlanJob, 6)
	for i := 0; i < 6; i++ {
		id := uuid.New()
		jobs[id] = winterization(id)
	}
	input := solver.Input{
		Date: testDate(),
		Jobs: jobs,
		Staff: map[uuid.UUID]constraint.StaffContext{
			staffA: techContext(staffA, []string{"compressor"}),
			staffB: techContext(staffB, []string{"compressor"}),
		},
		Seed: 99,
		// An iteration-bounded improvement phase finishes well inside
		// the budget, so the annealing schedule is identical run to run.
		MaxIterations: 200,
	}

	runCtx := func() context.Context {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		t.Cleanup(cancel)
		return ctx
	}
	first, err := newSolver().Solve(runCtx(), input)
	require.NoError(t, err)
	second, err := newSolver().Solve(runCtx(), input)
	require.NoError(t, err)

	assert.Equal(t, first.Hard, second.Hard)
	assert.Equal(t, first.Soft, second.Soft)
	require.Equal(t, len(first.Assignments), len(second.Assignments))
	for i := range first.Assignments {
		a, b := first.Assignments[i], second.Assignments[i]
		assert.Equal(t, a.JobID, b.JobID, "assignment %d job", i)
		assert.Equal(t, a.StaffID, b.StaffID, "assignment %d staff", i)
		assert.True(t, a.Start.Equal(b.Start), "assignment %d start", i)
		assert.True(t, a.End.Equal(b.End), "assignment %d end", i)
		assert.Equal(t, a.RouteOrder, b.RouteOrder, "assignment %d route order", i)
	}
	assert.Equal(t, first.UnassignedJobs, second.UnassignedJobs)
}

func TestSolve_PinnedJobsNeverMove(t *testing.T) {
	s := newSolver()
	staffA, staffB := uuid.New(), uuid.New()
	pinnedJob := uuid.New()
	floatJob := uuid.New()
	jobs := map[uuid.UUID]constraint.PlanJob{
		pinnedJob: winterization(pinnedJob),
		floatJob:  winterization(floatJob),
	}

	solution, err := s.Solve(shortCtx(t), solver.Input{
		Date: testDate(),
		Jobs: jobs,
		Staff: map[uuid.UUID]constraint.StaffContext{
			staffA: techContext(staffA, []string{"compressor"}),
			staffB: techContext(staffB, []string{"compressor"}),
		},
		Seed:   3,
		Pinned: map[uuid.UUID][]uuid.UUID{staffA: {pinnedJob}},
	})
	require.NoError(t, err)

	var pinnedStaff uuid.UUID
	for _, a := range solution.Assignments {
		if a.JobID == pinnedJob {
			pinnedStaff = a.StaffID
		}
	}
	assert.Equal(t, staffA, pinnedStaff, "pinned job must stay on its original staff")
}

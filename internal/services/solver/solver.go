// Package solver implements the route optimizer: construction of an
// initial feasible-as-possible day plan followed by a time-boxed
// local-search improvement phase, finalized by re-scoring the result
// through the constraint checker.
package solver

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gravelroot/dispatch-core/internal/services/constraint"
)

// DefaultBudget and the bounds a caller-supplied budget is clamped to.
const (
	DefaultBudget = 30 * time.Second
	MinBudget     = 5 * time.Second
	MaxBudget     = 120 * time.Second
)

// Assignment is one job's final placement in a ScheduleSolution.
type Assignment struct {
	JobID      uuid.UUID
	StaffID    uuid.UUID
	Start      time.Time
	End        time.Time
	RouteOrder int
}

// UnassignedJob pairs a job with the reason it could not be placed.
type UnassignedJob struct {
	JobID  uuid.UUID
	Reason constraint.UnassignedReason
}

// Solution is the optimizer's output for a single date.
type Solution struct {
	Date            time.Time
	Assignments     []Assignment
	UnassignedJobs  []UnassignedJob
	Hard            int
	Soft            int
	Elapsed         time.Duration
}

// Input is everything the optimizer needs for one date.
type Input struct {
	Date    time.Time
	Jobs    map[uuid.UUID]constraint.PlanJob
	Staff   map[uuid.UUID]constraint.StaffContext
	Budget  time.Duration
	Seed    int64
	// MaxIterations caps the improvement phase's local-search moves.
	// Zero means deadline-bound only. A seeded run needs a cap it can
	// finish inside the budget to be reproducible: with the cap in
	// charge, the annealing temperature and the stopping point depend
	// on the iteration count, not the wall clock.
	MaxIterations int
	// Pinned holds routes that must not move (confirmed/in_progress/
	// completed appointments during a re-optimize) — construction
	// treats them as pre-placed and they are never touched by the
	// improvement phase's local moves.
	Pinned map[uuid.UUID][]uuid.UUID
}

// Solver runs the construction + improvement + finalization pipeline.
// It holds no mutable state beyond the constraint checker it was
// built with, so one Solver is safe to reuse across requests.
type Solver struct {
	checker *constraint.Checker
}

func NewSolver(checker *constraint.Checker) *Solver {
	return &Solver{checker: checker}
}

// Solve runs construction, improvement, and finalization. It always
// returns within Input.Budget plus a small grace interval, honoring
// ctx cancellation as a cooperative deadline checked once per
// local-search iteration.
func (s *Solver) Solve(ctx context.Context, in Input) (*Solution, error) {
	started := time.Now()
	budget := clampBudget(in.Budget)
	deadline := started.Add(budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	rng := rand.New(rand.NewSource(seedOrDefault(in.Seed)))

	routes := make(map[uuid.UUID][]uuid.UUID, len(in.Staff))
	for staffID := range in.Staff {
		if pinned, ok := in.Pinned[staffID]; ok {
			routes[staffID] = append([]uuid.UUID(nil), pinned...)
		} else {
			routes[staffID] = nil
		}
	}

	unassigned := s.construct(ctx, in, routes)
	s.improve(ctx, in, routes, rng, deadline)

	finalResult, err := s.checker.Evaluate(ctx, constraint.PlanInput{
		Jobs: in.Jobs, Staff: in.Staff, RouteByStaff: routes,
	})
	if err != nil {
		return nil, err
	}

	solution := &Solution{
		Date:    in.Date,
		Hard:    finalResult.Hard,
		Soft:    finalResult.Soft,
		Elapsed: time.Since(started),
	}
	for staffID, route := range routes {
		for pos, jobID := range route {
			slot, ok := findSlot(finalResult, jobID, staffID)
			if !ok {
				continue
			}
			solution.Assignments = append(solution.Assignments, Assignment{
				JobID: jobID, StaffID: staffID, Start: slot.Start, End: slot.End, RouteOrder: pos,
			})
		}
	}
	for jobID, reason := range unassigned {
		solution.UnassignedJobs = append(solution.UnassignedJobs, UnassignedJob{JobID: jobID, Reason: reason})
	}
	// Anything the finalization pass still could not place (e.g. a
	// construction-time placement that the improvement phase broke)
	// falls back to a generic infeasible reason.
	for jobID := range finalResult.Unassigned {
		if _, already := unassigned[jobID]; !already {
			solution.UnassignedJobs = append(solution.UnassignedJobs, UnassignedJob{JobID: jobID, Reason: constraint.ReasonInfeasible})
		}
	}

	sort.Slice(solution.Assignments, func(i, j int) bool {
		a, b := solution.Assignments[i], solution.Assignments[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.StaffID != b.StaffID {
			return a.StaffID.String() < b.StaffID.String()
		}
		return a.JobID.String() < b.JobID.String()
	})
	sort.Slice(solution.UnassignedJobs, func(i, j int) bool {
		return solution.UnassignedJobs[i].JobID.String() < solution.UnassignedJobs[j].JobID.String()
	})
	return solution, nil
}

func sortedStaffIDs(staff map[uuid.UUID]constraint.StaffContext) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(staff))
	for id := range staff {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// construct implements the greedy construction phase: sort jobs by
// (priority desc, preferred-start asc, duration desc) and place each
// one on the staff/position that minimizes marginal soft cost while
// keeping hard = 0 for that job.
func (s *Solver) construct(ctx context.Context, in Input, routes map[uuid.UUID][]uuid.UUID) map[uuid.UUID]constraint.UnassignedReason {
	unassigned := make(map[uuid.UUID]constraint.UnassignedReason)

	// Pinned jobs already sit on their seeded routes; they are not
	// placed a second time.
	pinned := make(map[uuid.UUID]bool)
	for staffID, route := range in.Pinned {
		if _, ok := in.Staff[staffID]; !ok {
			continue
		}
		for _, jobID := range route {
			pinned[jobID] = true
		}
	}
	jobIDs := make([]uuid.UUID, 0, len(in.Jobs))
	for id := range in.Jobs {
		if !pinned[id] {
			jobIDs = append(jobIDs, id)
		}
	}
	sort.Slice(jobIDs, func(i, j int) bool {
		a, b := in.Jobs[jobIDs[i]], in.Jobs[jobIDs[j]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		aStart, bStart := farFuture(), farFuture()
		if a.PreferredStart != nil {
			aStart = *a.PreferredStart
		}
		if b.PreferredStart != nil {
			bStart = *b.PreferredStart
		}
		if !aStart.Equal(bStart) {
			return aStart.Before(bStart)
		}
		if a.DurationMinutes != b.DurationMinutes {
			return a.DurationMinutes > b.DurationMinutes
		}
		// Job-id tiebreak: the sort order, and with it the whole run,
		// must not depend on map iteration order.
		return jobIDs[i].String() < jobIDs[j].String()
	})

	if len(in.Staff) == 0 {
		for _, jobID := range jobIDs {
			unassigned[jobID] = constraint.ReasonNoStaff
		}
		return unassigned
	}

	staffIDs := sortedStaffIDs(in.Staff)

	for _, jobID := range jobIDs {
		if ctx.Err() != nil {
			unassigned[jobID] = constraint.ReasonInfeasible
			continue
		}
		job := in.Jobs[jobID]

		if job.RequiredStaffCount > 1 {
			placed, reason := s.placeMultiStaff(ctx, in, routes, jobID)
			if !placed {
				unassigned[jobID] = reason
			}
			continue
		}

		bestStaff := uuid.Nil
		bestPos := -1
		bestSoft := math.Inf(-1)
		anyEquipmentMatch := false
		anyFits := false

		// Sorted staff order plus a strict > comparison: ties go to the
		// lexicographically first staff id, run after run.
		for _, staffID := range staffIDs {
			staff := in.Staff[staffID]
			if !hasEquipment(staff.Equipment, job.RequiredEquipment) {
				continue
			}
			anyEquipmentMatch = true
			route := routes[staffID]
			base, err := s.checker.Evaluate(ctx, constraint.PlanInput{
				Jobs:         onlyJobs(in.Jobs, route),
				Staff:        map[uuid.UUID]constraint.StaffContext{staffID: staff},
				RouteByStaff: map[uuid.UUID][]uuid.UUID{staffID: route},
			})
			if err != nil {
				continue
			}
			for pos := 0; pos <= len(route); pos++ {
				candidate := insertAt(route, jobID, pos)
				result, err := s.checker.Evaluate(ctx, constraint.PlanInput{
					Jobs:  onlyJobs(in.Jobs, candidate),
					Staff: map[uuid.UUID]constraint.StaffContext{staffID: staff},
					RouteByStaff: map[uuid.UUID][]uuid.UUID{staffID: candidate},
				})
				if err != nil || result.Hard != 0 {
					continue
				}
				anyFits = true
				if marginal := float64(result.Soft - base.Soft); marginal > bestSoft {
					bestSoft = marginal
					bestStaff = staffID
					bestPos = pos
				}
			}
		}

		if bestPos >= 0 {
			routes[bestStaff] = insertAt(routes[bestStaff], jobID, bestPos)
			continue
		}

		switch {
		case !anyEquipmentMatch:
			unassigned[jobID] = constraint.ReasonEquipment
		case !anyFits:
			unassigned[jobID] = constraint.ReasonDuration
		default:
			unassigned[jobID] = constraint.ReasonInfeasible
		}
	}

	return unassigned
}

// placeMultiStaff handles jobs requiring N > 1 simultaneous staff: it
// appends the job to the end of the N least-loaded qualifying staff
// routes, one placement per (job, staff). Their start times are not
// aligned here or in finalization; each staff's walk computes its own
// slot, and the checker reports co-assignments that do not share a
// start instant as a staff_count violation.
func (s *Solver) placeMultiStaff(ctx context.Context, in Input, routes map[uuid.UUID][]uuid.UUID, jobID uuid.UUID) (bool, constraint.UnassignedReason) {
	job := in.Jobs[jobID]
	type candidate struct {
		staffID uuid.UUID
		load    int
	}
	var candidates []candidate
	for _, staffID := range sortedStaffIDs(in.Staff) {
		staff := in.Staff[staffID]
		if !hasEquipment(staff.Equipment, job.RequiredEquipment) {
			continue
		}
		candidates = append(candidates, candidate{staffID: staffID, load: len(routes[staffID])})
	}
	if len(candidates) < job.RequiredStaffCount {
		if len(candidates) == 0 {
			return false, constraint.ReasonEquipment
		}
		return false, constraint.ReasonNoStaff
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].load < candidates[j].load })

	chosen := candidates[:job.RequiredStaffCount]
	for _, c := range chosen {
		routes[c.staffID] = append(routes[c.staffID], jobID)
	}
	_ = ctx
	return true, ""
}

// improve runs the local-search phase: relocate, swap, and 2-opt moves
// under a simulated-annealing acceptance schedule, accepting any move
// that improves (hard, soft) lexicographically and soft-worsening
// moves with probability decaying over the remaining budget.
func (s *Solver) improve(ctx context.Context, in Input, routes map[uuid.UUID][]uuid.UUID, rng *rand.Rand, deadline time.Time) {
	pinnedJobs := make(map[uuid.UUID]bool)
	for _, route := range in.Pinned {
		for _, jobID := range route {
			pinnedJobs[jobID] = true
		}
	}

	// Sorted so the rng indexes the same physical staff member on every
	// seeded run; map iteration order would break that.
	staffIDs := sortedStaffIDs(in.Staff)
	if len(staffIDs) == 0 {
		return
	}
	movableCount := 0
	for _, route := range routes {
		for _, jobID := range route {
			if !pinnedJobs[jobID] {
				movableCount++
			}
		}
	}
	if movableCount == 0 {
		return
	}

	currentHard, currentSoft := s.score(ctx, in, routes)
	start := time.Now()
	total := deadline.Sub(start)
	if total <= 0 {
		return
	}

	for iteration := 0; ; iteration++ {
		if ctx.Err() != nil || time.Now().After(deadline) {
			return
		}
		if in.MaxIterations > 0 && iteration >= in.MaxIterations {
			return
		}
		var progress float64
		if in.MaxIterations > 0 {
			progress = float64(iteration) / float64(in.MaxIterations)
		} else {
			progress = time.Since(start).Seconds() / total.Seconds()
		}
		temperature := math.Max(0.01, 1-progress)

		move := rng.Intn(3)
		var candidateRoutes map[uuid.UUID][]uuid.UUID
		switch move {
		case 0:
			candidateRoutes = relocateMove(routes, staffIDs, pinnedJobs, rng)
		case 1:
			candidateRoutes = swapMove(routes, staffIDs, pinnedJobs, rng)
		default:
			candidateRoutes = twoOptMove(routes, staffIDs, pinnedJobs, rng)
		}
		if candidateRoutes == nil {
			continue
		}

		hard, soft := s.score(ctx, in, candidateRoutes)
		accept := false
		if hard > currentHard || (hard == currentHard && soft > currentSoft) {
			accept = true
		} else if hard == currentHard {
			delta := float64(soft - currentSoft)
			if delta <= 0 && rng.Float64() < math.Exp(delta/ (temperature*100)) {
				accept = true
			}
		}
		if accept {
			for staffID, route := range candidateRoutes {
				routes[staffID] = route
			}
			currentHard, currentSoft = hard, soft
		}
	}
}

func (s *Solver) score(ctx context.Context, in Input, routes map[uuid.UUID][]uuid.UUID) (int, int) {
	result, err := s.checker.Evaluate(ctx, constraint.PlanInput{Jobs: in.Jobs, Staff: in.Staff, RouteByStaff: routes})
	if err != nil {
		return -1 << 30, -1 << 30
	}
	return result.Hard, result.Soft
}

func relocateMove(routes map[uuid.UUID][]uuid.UUID, staffIDs []uuid.UUID, pinned map[uuid.UUID]bool, rng *rand.Rand) map[uuid.UUID][]uuid.UUID {
	from := staffIDs[rng.Intn(len(staffIDs))]
	to := staffIDs[rng.Intn(len(staffIDs))]
	fromRoute := routes[from]
	movable := movablePositions(fromRoute, pinned)
	if len(movable) == 0 {
		return nil
	}
	pos := movable[rng.Intn(len(movable))]
	jobID := fromRoute[pos]

	next := cloneRoutes(routes)
	next[from] = append(append([]uuid.UUID{}, fromRoute[:pos]...), fromRoute[pos+1:]...)
	toRoute := next[to]
	insertPos := rng.Intn(len(toRoute) + 1)
	next[to] = insertAt(toRoute, jobID, insertPos)
	return next
}

func swapMove(routes map[uuid.UUID][]uuid.UUID, staffIDs []uuid.UUID, pinned map[uuid.UUID]bool, rng *rand.Rand) map[uuid.UUID][]uuid.UUID {
	a := staffIDs[rng.Intn(len(staffIDs))]
	b := staffIDs[rng.Intn(len(staffIDs))]
	aMovable := movablePositions(routes[a], pinned)
	bMovable := movablePositions(routes[b], pinned)
	if len(aMovable) == 0 || len(bMovable) == 0 {
		return nil
	}
	aPos := aMovable[rng.Intn(len(aMovable))]
	bPos := bMovable[rng.Intn(len(bMovable))]

	next := cloneRoutes(routes)
	next[a][aPos], next[b][bPos] = next[b][bPos], next[a][aPos]
	return next
}

func twoOptMove(routes map[uuid.UUID][]uuid.UUID, staffIDs []uuid.UUID, pinned map[uuid.UUID]bool, rng *rand.Rand) map[uuid.UUID][]uuid.UUID {
	staffID := staffIDs[rng.Intn(len(staffIDs))]
	movable := movablePositions(routes[staffID], pinned)
	if len(movable) < 2 {
		return nil
	}
	i := movable[rng.Intn(len(movable))]
	j := movable[rng.Intn(len(movable))]
	if i == j {
		return nil
	}
	if i > j {
		i, j = j, i
	}
	next := cloneRoutes(routes)
	route := append([]uuid.UUID{}, next[staffID]...)
	for a, b := i, j; a < b; a, b = a+1, b-1 {
		route[a], route[b] = route[b], route[a]
	}
	next[staffID] = route
	return next
}

func movablePositions(route []uuid.UUID, pinned map[uuid.UUID]bool) []int {
	var out []int
	for i, jobID := range route {
		if !pinned[jobID] {
			out = append(out, i)
		}
	}
	return out
}

func cloneRoutes(routes map[uuid.UUID][]uuid.UUID) map[uuid.UUID][]uuid.UUID {
	next := make(map[uuid.UUID][]uuid.UUID, len(routes))
	for k, v := range routes {
		next[k] = append([]uuid.UUID{}, v...)
	}
	return next
}

func insertAt(route []uuid.UUID, jobID uuid.UUID, pos int) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(route)+1)
	out = append(out, route[:pos]...)
	out = append(out, jobID)
	out = append(out, route[pos:]...)
	return out
}

func onlyJobs(jobs map[uuid.UUID]constraint.PlanJob, ids []uuid.UUID) map[uuid.UUID]constraint.PlanJob {
	out := make(map[uuid.UUID]constraint.PlanJob, len(ids))
	for _, id := range ids {
		out[id] = jobs[id]
	}
	return out
}

func findSlot(result *constraint.Result, jobID, staffID uuid.UUID) (constraint.Slot, bool) {
	for _, slot := range result.Slots {
		if slot.JobID == jobID && slot.StaffID == staffID {
			return slot, true
		}
	}
	return constraint.Slot{}, false
}

func hasEquipment(have, required []string) bool {
	set := make(map[string]bool, len(have))
	for _, e := range have {
		set[e] = true
	}
	for _, r := range required {
		if !set[r] {
			return false
		}
	}
	return true
}

func clampBudget(b time.Duration) time.Duration {
	if b <= 0 {
		return DefaultBudget
	}
	if b < MinBudget {
		return MinBudget
	}
	if b > MaxBudget {
		return MaxBudget
	}
	return b
}

func seedOrDefault(seed int64) int64 {
	if seed == 0 {
		return time.Now().UnixNano()
	}
	return seed
}

func farFuture() time.Time {
	return time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
}

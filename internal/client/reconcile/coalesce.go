package reconcile

import (
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/dmitrijs2005/churchkeeper/internal/client/models"
	"golang.org/x/crypto/blake2b"
)

// Group is the outcome of coalescing one lesson: the record to push and the
// records it makes redundant.
type Group struct {
	Winner     models.ProgressRecord
	Superseded []models.ProgressRecord
}

// IDs returns the winner's id followed by the superseded ids.
func (g Group) IDs() []int64 {
	ids := make([]int64, 0, 1+len(g.Superseded))
	ids = append(ids, g.Winner.ID)
	for _, r := range g.Superseded {
		ids = append(ids, r.ID)
	}
	return ids
}

// beats reports whether a should be pushed instead of b: higher progress
// first, then the later write, then the later local id.
func beats(a, b models.ProgressRecord) bool {
	if a.ProgressPercent != b.ProgressPercent {
		return a.ProgressPercent > b.ProgressPercent
	}
	if a.WrittenAt != b.WrittenAt {
		return a.WrittenAt > b.WrittenAt
	}
	return a.ID > b.ID
}

// Coalesce collapses pending records to one per (user, course, lesson).
// Groups are ordered by winner id; superseded records by id.
func Coalesce(pending []models.ProgressRecord) []Group {
	byKey := make(map[models.ProgressKey]*Group)
	var order []models.ProgressKey

	for _, r := range pending {
		k := r.Key()
		g, ok := byKey[k]
		if !ok {
			byKey[k] = &Group{Winner: r}
			order = append(order, k)
			continue
		}
		if beats(r, g.Winner) {
			g.Superseded = append(g.Superseded, g.Winner)
			g.Winner = r
		} else {
			g.Superseded = append(g.Superseded, r)
		}
	}

	groups := make([]Group, 0, len(order))
	for _, k := range order {
		g := byKey[k]
		sort.Slice(g.Superseded, func(i, j int) bool { return g.Superseded[i].ID < g.Superseded[j].ID })
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Winner.ID < groups[j].Winner.ID })
	return groups
}

// IdempotencyKey identifies the server-side effect of pushing r, so a
// replay of the same lesson at the same percentage is recognised.
func IdempotencyKey(r models.ProgressRecord) string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{r.UserID, r.CourseID, r.LessonID, strconv.Itoa(r.ProgressPercent)} {
		h.Write([]byte(strconv.Itoa(len(part))))
		h.Write([]byte{':'})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/go-gota/gota/dataframe"
)

// Partition fractions: 30% is held out, then halved into val and test.
const (
	HoldoutFraction = 0.3
	TestFraction    = 0.5
)

// ErrTooFewPerClass is returned when a class cannot be stratified.
var ErrTooFewPerClass = errors.New("dataset: each class needs at least 2 rows to stratify")

// Indices holds the row numbers of each partition in ascending order.
// The three sets are disjoint and together cover every input row.
type Indices struct {
	Train []int
	Val   []int
	Test  []int
}

// StratifiedSplit partitions rows 70/15/15 while preserving the label
// proportions of each class. The same labels and seed always produce
// the same partitions.
func StratifiedSplit(labels []int, seed int64) (Indices, error) {
	counts := map[int]int{}
	for _, y := range labels {
		counts[y]++
	}
	for _, class := range []int{0, 1} {
		if counts[class] < 2 {
			return Indices{}, fmt.Errorf("%w: class %d has %d", ErrTooFewPerClass, class, counts[class])
		}
	}

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))

	all := make([]int, len(labels))
	for i := range all {
		all[i] = i
	}
	train, held := holdout(all, labels, HoldoutFraction, rng)
	val, test := holdout(held, labels, TestFraction, rng)

	return Indices{Train: train, Val: val, Test: test}, nil
}

// Take returns the rows of df selected by idx.
func Take(df dataframe.DataFrame, idx []int) dataframe.DataFrame {
	return df.Subset(idx)
}

// TakeInts returns the values selected by idx.
func TakeInts(values []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}

// TakeStrings returns the values selected by idx.
func TakeStrings(values []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}

// holdout moves ceil(frac*len(rows)) rows into the second partition.
// Each class contributes in proportion to its size; leftover slots go to
// the classes with the largest fractional share.
func holdout(rows, labels []int, frac float64, rng *rand.Rand) (keep, held []int) {
	byClass := map[int][]int{}
	var classes []int
	for _, r := range rows {
		y := labels[r]
		if _, ok := byClass[y]; !ok {
			classes = append(classes, y)
		}
		byClass[y] = append(byClass[y], r)
	}
	sort.Ints(classes)

	n := len(rows)
	nHeld := int(math.Ceil(frac * float64(n)))

	type share struct {
		class int
		take  int
		rem   float64
	}
	shares := make([]share, len(classes))
	assigned := 0
	for i, c := range classes {
		exact := float64(nHeld) * float64(len(byClass[c])) / float64(n)
		take := int(math.Floor(exact))
		shares[i] = share{class: c, take: take, rem: exact - float64(take)}
		assigned += take
	}
	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return shares[order[a]].rem > shares[order[b]].rem
	})
	for _, i := range order {
		if assigned >= nHeld {
			break
		}
		if shares[i].take < len(byClass[shares[i].class]) {
			shares[i].take++
			assigned++
		}
	}

	for _, s := range shares {
		members := byClass[s.class]
		rng.Shuffle(len(members), func(i, j int) {
			members[i], members[j] = members[j], members[i]
		})
		held = append(held, members[:s.take]...)
		keep = append(keep, members[s.take:]...)
	}
	sort.Ints(keep)
	sort.Ints(held)
	return keep, held
}

package gbdt

// node is either a split (left when x[feature] <= threshold) or a leaf.
type node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"value"`
}

// tree is a regression tree over raw feature values; nodes[0] is the root.
type tree struct {
	Nodes []node `json:"nodes"`
}

func (t *tree) predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

func (t *tree) numLeaves() int {
	n := 0
	for _, nd := range t.Nodes {
		if nd.Leaf {
			n++
		}
	}
	return n
}

// split is the best candidate split found for one leaf.
type split struct {
	gain    float64
	feature int
	bin     int

	leftGrad, leftHess   float64
	leftCount            int
	rightGrad, rightHess float64
	rightCount           int
}

// leaf is a growing leaf: the node it occupies and the rows it holds.
type leaf struct {
	node  int
	rows  []int
	grad  float64
	hess  float64
	best  split
	found bool
}

// histBin accumulates gradient statistics of one bin.
type histBin struct {
	grad  float64
	hess  float64
	count int
}

// grower builds one tree leaf-wise from binned features and gradients.
type grower struct {
	params Params
	binned [][]uint16 // [feature][row]
	bins   []featureBins
	grad   []float64
	hess   []float64
	hist   []histBin
}

func (g *grower) leafOutput(sumGrad, sumHess float64) float64 {
	if sumHess+g.params.Lambda <= 0 {
		return 0
	}
	return -sumGrad / (sumHess + g.params.Lambda)
}

func (g *grower) leafScore(sumGrad, sumHess float64) float64 {
	return sumGrad * sumGrad / (sumHess + g.params.Lambda)
}

// findSplit scans every feature histogram of l for the highest-gain
// split that honours the minimum leaf size and hessian.
func (g *grower) findSplit(l *leaf) {
	l.found = false
	if len(l.rows) < 2*g.params.MinChildSamples {
		return
	}
	parent := g.leafScore(l.grad, l.hess)

	for f, col := range g.binned {
		nb := g.bins[f].numBins()
		if nb < 2 {
			continue
		}
		hist := g.hist[:nb]
		clear(hist)
		for _, r := range l.rows {
			h := &hist[col[r]]
			h.grad += g.grad[r]
			h.hess += g.hess[r]
			h.count++
		}

		var lg, lh float64
		var lc int
		for b := 0; b < nb-1; b++ {
			lg += hist[b].grad
			lh += hist[b].hess
			lc += hist[b].count
			rc := len(l.rows) - lc
			if lc < g.params.MinChildSamples {
				continue
			}
			if rc < g.params.MinChildSamples {
				break
			}
			rg, rh := l.grad-lg, l.hess-lh
			if lh < g.params.MinSumHessian || rh < g.params.MinSumHessian {
				continue
			}

			gain := g.leafScore(lg, lh) + g.leafScore(rg, rh) - parent
			if gain > 1e-12 && (!l.found || gain > l.best.gain) {
				l.best = split{
					gain: gain, feature: f, bin: b,
					leftGrad: lg, leftHess: lh, leftCount: lc,
					rightGrad: rg, rightHess: rh, rightCount: rc,
				}
				l.found = true
			}
		}
	}
}

// grow builds a tree on rows, scaling leaf outputs by the learning rate.
func (g *grower) grow(rows []int) *tree {
	var sumGrad, sumHess float64
	for _, r := range rows {
		sumGrad += g.grad[r]
		sumHess += g.hess[r]
	}

	t := &tree{Nodes: []node{{Leaf: true}}}
	root := &leaf{node: 0, rows: rows, grad: sumGrad, hess: sumHess}
	g.findSplit(root)
	leaves := []*leaf{root}

	for len(leaves) < g.params.NumLeaves {
		// pick the leaf with the largest gain; ties go to the oldest
		best := -1
		for i, l := range leaves {
			if l.found && (best < 0 || l.best.gain > leaves[best].best.gain) {
				best = i
			}
		}
		if best < 0 {
			break
		}

		l := leaves[best]
		s := l.best
		col := g.binned[s.feature]
		left := make([]int, 0, s.leftCount)
		right := make([]int, 0, s.rightCount)
		for _, r := range l.rows {
			if int(col[r]) <= s.bin {
				left = append(left, r)
			} else {
				right = append(right, r)
			}
		}

		li, ri := len(t.Nodes), len(t.Nodes)+1
		t.Nodes = append(t.Nodes, node{Leaf: true}, node{Leaf: true})
		t.Nodes[l.node] = node{
			Feature:   s.feature,
			Threshold: g.bins[s.feature].upper[s.bin],
			Left:      li,
			Right:     ri,
		}

		ll := &leaf{node: li, rows: left, grad: s.leftGrad, hess: s.leftHess}
		rl := &leaf{node: ri, rows: right, grad: s.rightGrad, hess: s.rightHess}
		g.findSplit(ll)
		g.findSplit(rl)

		leaves[best] = ll
		leaves = append(leaves, rl)
	}

	for _, l := range leaves {
		t.Nodes[l.node].Value = g.params.LearningRate * g.leafOutput(l.grad, l.hess)
	}
	return t
}

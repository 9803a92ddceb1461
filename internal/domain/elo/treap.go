package elo

import "math"

// Treap-backed ordering for one pool.
//
// Ordering: rating DESC, then arrival sequence ASC (earliest submission wins
// ties). In-order traversal yields the leaderboard from best to worst.

// ratingScale controls fixed-point scaling so comparisons are exact.
const ratingScale = 1_000_000

type ratingFP int64

func toFixedPoint(x float64) ratingFP {
	if math.IsNaN(x) {
		return 0
	}
	scaled := x * ratingScale
	if scaled > float64(math.MaxInt64) {
		return ratingFP(math.MaxInt64)
	}
	if scaled < float64(math.MinInt64) {
		return ratingFP(math.MinInt64)
	}
	return ratingFP(math.Round(scaled))
}

type node struct {
	id      string
	rating  ratingFP
	arrival uint64
	prio    uint64
	left    *node
	right   *node
	size    int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less reports whether (aRating, aArrival) ranks earlier than (bRating,
// bArrival): higher rating first, earlier arrival breaks ties.
func less(aRating ratingFP, aArrival uint64, bRating ratingFP, bArrival uint64) bool {
	if aRating != bRating {
		return aRating > bRating
	}
	return aArrival < bArrival
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

// insert adds a node with the given heap priority. Priorities must be
// independent of the ordering key or the tree degenerates into a list, so
// the pool draws them from its seeded rng.
func insert(n *node, id string, rating ratingFP, arrival uint64, prio uint64) *node {
	if n == nil {
		return &node{id: id, rating: rating, arrival: arrival, prio: prio, size: 1}
	}
	if less(rating, arrival, n.rating, n.arrival) {
		n.left = insert(n.left, id, rating, arrival, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, rating, arrival, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, rating ratingFP, arrival uint64) *node {
	if n == nil {
		return nil
	}
	if rating == n.rating && arrival == n.arrival && id == n.id {
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, rating, arrival)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, rating, arrival)
		}
	} else if less(rating, arrival, n.rating, n.arrival) {
		n.left = deleteNode(n.left, id, rating, arrival)
	} else {
		n.right = deleteNode(n.right, id, rating, arrival)
	}
	fix(n)
	return n
}

// collectTopN appends up to limit ids in rank order.
func collectTopN(n *node, limit int, out *[]string) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n.id)
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

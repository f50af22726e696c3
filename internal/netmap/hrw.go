package netmap

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"

	"github.com/zeebo/blake3"
)

// unit maps BLAKE3(pivot || key) to the open interval (0, 1).
func unit(pivot, key []byte) float64 {
	h := blake3.New()
	h.Write(pivot)
	h.Write(key)

	var sum [32]byte
	copy(sum[:], h.Sum(nil))

	// 53 significant bits, offset by half a step so 0 and 1 are never produced
	x := binary.BigEndian.Uint64(sum[:8]) >> 11
	return (float64(x) + 0.5) / (1 << 53)
}

// score is the weighted rendezvous score: weight / -ln(u).
// Higher scores win. With equal weights the order only depends on u.
func score(pivot, key []byte, weight float64) float64 {
	return weight / -math.Log(unit(pivot, key))
}

// rankNodes sorts nodes by descending capacity-weighted score for pivot.
// Ties fall back to the public key so the order is total.
func rankNodes(nodes []NodeInfo, pivot []byte) {
	scores := make(map[string]float64, len(nodes))
	for i := range nodes {
		scores[string(nodes[i].PublicKey)] = score(pivot, nodes[i].PublicKey, nodes[i].Capacity())
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		si := scores[string(nodes[i].PublicKey)]
		sj := scores[string(nodes[j].PublicKey)]
		if si != sj {
			return si > sj
		}
		return bytes.Compare(nodes[i].PublicKey, nodes[j].PublicKey) > 0
	})
}

// rankBuckets sorts buckets by descending score of their attribute value,
// weighted by the total capacity of the bucket.
func rankBuckets(buckets []bucket, pivot []byte) {
	scores := make([]float64, len(buckets))
	for i := range buckets {
		var weight float64
		for j := range buckets[i].nodes {
			weight += buckets[i].nodes[j].Capacity()
		}
		scores[i] = score(pivot, []byte(buckets[i].key), weight)
	}

	idx := make([]int, len(buckets))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		if scores[idx[a]] != scores[idx[b]] {
			return scores[idx[a]] > scores[idx[b]]
		}
		return buckets[idx[a]].key < buckets[idx[b]].key
	})

	sorted := make([]bucket, len(buckets))
	for i, k := range idx {
		sorted[i] = buckets[k]
	}
	copy(buckets, sorted)
}

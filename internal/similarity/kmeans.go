package similarity

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"

	"kb-toolkit/internal/models"
)

const (
	kmeansRestarts = 10
	kmeansMaxIter  = 300
)

// Cluster partitions docs into k groups with k-means (k-means++ seeding,
// best of several restarts). The same seed gives the same partition.
func Cluster(docs []models.DocumentRecord, k int, seed int64) (map[int][]string, error) {
	dim, err := checkDimensions(docs)
	if err != nil {
		return nil, err
	}
	if k < 1 || k > len(docs) {
		return nil, fmt.Errorf("%w: k=%d for %d documents", models.ErrInvalidClusterCount, k, len(docs))
	}
	log.Info().Int("documents", len(docs)).Int("clusters", k).Msg("Performing k-means clustering")

	points := make([][]float64, len(docs))
	for i, doc := range docs {
		points[i] = make([]float64, dim)
		for j, v := range doc.Embedding {
			points[i][j] = float64(v)
		}
	}

	rng := rand.New(rand.NewSource(seed))
	var (
		best        []int
		bestInertia = math.Inf(1)
	)
	for r := 0; r < kmeansRestarts; r++ {
		labels, inertia := lloyd(points, seedCentroids(points, k, rng))
		if inertia < bestInertia {
			best, bestInertia = labels, inertia
		}
	}

	clusters := make(map[int][]string, k)
	for i, label := range best {
		clusters[label] = append(clusters[label], docs[i].ID)
	}
	log.Debug().Float64("inertia", bestInertia).Int("non_empty", len(clusters)).Msg("Clustering done")
	return clusters, nil
}

// seedCentroids picks k starting centroids with the k-means++ rule.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.Intn(len(points))]))

	dist := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			dist[i] = nearestDistance(p, centroids)
			total += dist[i]
		}
		if total == 0 {
			centroids = append(centroids, clone(points[rng.Intn(len(points))]))
			continue
		}
		target := rng.Float64() * total
		chosen := len(points) - 1
		for i, d := range dist {
			target -= d
			if target < 0 {
				chosen = i
				break
			}
		}
		centroids = append(centroids, clone(points[chosen]))
	}
	return centroids
}

// lloyd runs assignment/update rounds until labels settle and returns the
// labels with their inertia.
func lloyd(points [][]float64, centroids [][]float64) ([]int, float64) {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, p := range points {
			label := closest(p, centroids)
			if label != labels[i] {
				labels[i] = label
				changed = true
			}
		}
		if relocateEmpty(points, centroids, labels) {
			changed = true
		}
		updateCentroids(points, centroids, labels)
		if !changed {
			break
		}
	}

	var inertia float64
	for i, p := range points {
		inertia += squaredDistance(p, centroids[labels[i]])
	}
	return labels, inertia
}

// relocateEmpty moves the point farthest from its centroid into every empty
// cluster, taking it only from clusters that keep at least one member.
func relocateEmpty(points [][]float64, centroids [][]float64, labels []int) bool {
	moved := false
	sizes := make([]int, len(centroids))
	for _, l := range labels {
		sizes[l]++
	}
	for c := range centroids {
		if sizes[c] > 0 {
			continue
		}
		far, farDist := -1, -1.0
		for i, p := range points {
			if sizes[labels[i]] < 2 {
				continue
			}
			if d := squaredDistance(p, centroids[labels[i]]); d > farDist {
				far, farDist = i, d
			}
		}
		if far < 0 {
			return moved
		}
		sizes[labels[far]]--
		labels[far] = c
		sizes[c]++
		centroids[c] = clone(points[far])
		moved = true
	}
	return moved
}

func updateCentroids(points [][]float64, centroids [][]float64, labels []int) {
	dim := len(points[0])
	sums := make([][]float64, len(centroids))
	counts := make([]int, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		l := labels[i]
		counts[l]++
		for j, v := range p {
			sums[l][j] += v
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		for j := range sums[c] {
			centroids[c][j] = sums[c][j] / float64(counts[c])
		}
	}
}

func closest(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := squaredDistance(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func nearestDistance(p []float64, centroids [][]float64) float64 {
	return squaredDistance(p, centroids[closest(p, centroids)])
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

package cli

import (
	"sort"

	"github.com/spf13/cobra"

	"kb-toolkit/internal/corpus"
	"kb-toolkit/internal/pipeline"
)

var (
	similarTopN      int
	similarThreshold float64
	clusterCount     int
	clusterSeed      int64
)

var similarCmd = &cobra.Command{
	Use:   "similar",
	Short: "Find similar posts worth linking",
	Long: `Reads embeddings.json, finds the nearest posts of every post and writes
linked.json with the twins above the link threshold that are not linked yet.`,
	Args: cobra.NoArgs,
	RunE: runSimilar,
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Group posts with k-means",
	Long:  `Reads embeddings.json and writes clusters.json.`,
	Args:  cobra.NoArgs,
	RunE:  runCluster,
}

func init() {
	similarCmd.Flags().IntVarP(&similarTopN, "top-n", "n", 0, "twins kept per post (default from config)")
	similarCmd.Flags().Float64VarP(&similarThreshold, "threshold", "t", 0, "minimum similarity of a link (default from config)")
	clusterCmd.Flags().IntVarP(&clusterCount, "clusters", "k", 0, "number of clusters (default from config)")
	clusterCmd.Flags().Int64Var(&clusterSeed, "seed", 0, "random seed (default from config)")
	rootCmd.AddCommand(similarCmd, clusterCmd)
}

func similarityReport(cmd *cobra.Command) pipeline.SimilarityReport {
	r := pipeline.NewSimilarityReport(cfg.Similarity)
	flags := cmd.Flags()
	if flags.Changed("top-n") {
		r.TopN = similarTopN
	}
	if flags.Changed("threshold") {
		r.Threshold = similarThreshold
	}
	if flags.Changed("clusters") {
		r.Clusters = clusterCount
	}
	if flags.Changed("seed") {
		r.Seed = clusterSeed
	}
	return r
}

func runSimilar(cmd *cobra.Command, _ []string) error {
	records, err := corpus.LoadRecords(artifact(pipeline.EmbeddingsFile))
	if err != nil {
		return err
	}
	linked, err := similarityReport(cmd).WriteLinked(records, cfg.Corpus.Dir)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(linked))
	for id := range linked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, twin := range linked[id].Similar.Twins {
			cmd.Printf("%s -> %s (%.3f)\n", id, twin.Document, twin.Similarity)
		}
	}
	cmd.Printf("Wrote %s\n", artifact(pipeline.LinkedFile))
	return nil
}

func runCluster(cmd *cobra.Command, _ []string) error {
	records, err := corpus.LoadRecords(artifact(pipeline.EmbeddingsFile))
	if err != nil {
		return err
	}
	clusters, err := similarityReport(cmd).WriteClusters(records, cfg.Corpus.Dir)
	if err != nil {
		return err
	}

	labels := make([]int, 0, len(clusters))
	for label := range clusters {
		labels = append(labels, label)
	}
	sort.Ints(labels)
	for _, label := range labels {
		cmd.Printf("Cluster %d: %d posts\n", label, len(clusters[label]))
	}
	return nil
}

package fraud

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

const (
	reciprocalWeight = 0.4
	capWeight        = 0.2
	networkWeight    = 0.4
)

// CollusionDetector inspects the verifier/subject graph.
type CollusionDetector struct {
	policy scorecfg.CollusionPolicy
}

// NewCollusionDetector creates a collusion detector bound to cfg.
func NewCollusionDetector(cfg *scorecfg.Configuration) (*CollusionDetector, error) {
	if cfg == nil {
		return nil, ErrNoConfig
	}
	return &CollusionDetector{policy: cfg.Collusion}, nil
}

// verificationGraph indexes testimony edges verifier -> subject.
type verificationGraph struct {
	ids      []string
	index    map[string]int64
	directed *simple.DirectedGraph
	pairs    map[[2]int64]bool
	verifier map[int64]bool
	self     []string
}

func buildGraph(testimonies []*domain.TestimonyRecord) *verificationGraph {
	names := map[string]bool{}
	for _, t := range testimonies {
		names[t.VerifierID] = true
		names[t.SubjectID] = true
	}
	g := &verificationGraph{
		index:    make(map[string]int64, len(names)),
		directed: simple.NewDirectedGraph(),
		pairs:    map[[2]int64]bool{},
		verifier: map[int64]bool{},
	}
	for n := range names {
		g.ids = append(g.ids, n)
	}
	sort.Strings(g.ids)
	for i, n := range g.ids {
		g.index[n] = int64(i)
		g.directed.AddNode(simple.Node(i))
	}

	selfSeen := map[string]bool{}
	for _, t := range testimonies {
		from, to := g.index[t.VerifierID], g.index[t.SubjectID]
		g.verifier[from] = true
		if from == to {
			if !selfSeen[t.VerifierID] {
				selfSeen[t.VerifierID] = true
				g.self = append(g.self, t.VerifierID)
			}
			continue
		}
		g.pairs[[2]int64{from, to}] = true
		g.directed.SetEdge(g.directed.NewEdge(simple.Node(from), simple.Node(to)))
	}
	sort.Strings(g.self)
	return g
}

// Detect scans testimony history for reciprocal verification, verifiers
// over the per-period cap, and dense verification clusters.
func (c *CollusionDetector) Detect(testimonies []*domain.TestimonyRecord, asOf time.Time) domain.CollusionReport {
	report := domain.CollusionReport{Flags: []domain.FraudFlag{}, Clusters: []domain.CollusionCluster{}}
	if len(testimonies) == 0 {
		return report
	}
	g := buildGraph(testimonies)

	report.Flags = append(report.Flags, c.reciprocal(g)...)
	report.Flags = append(report.Flags, c.overCap(testimonies, asOf)...)
	flags, clusters := c.clusters(g)
	report.Flags = append(report.Flags, flags...)
	report.Clusters = append(report.Clusters, clusters...)
	return report
}

func (c *CollusionDetector) reciprocal(g *verificationGraph) []domain.FraudFlag {
	var flags []domain.FraudFlag
	for _, id := range g.self {
		flags = append(flags, domain.FraudFlag{
			Type:         domain.FlagReciprocal,
			Severity:     domain.SeverityHigh,
			Description:  fmt.Sprintf("%s verified their own record", id),
			Contribution: reciprocalWeight,
			Participants: []string{id},
		})
	}

	for i := range g.ids {
		for j := i + 1; j < len(g.ids); j++ {
			a, b := int64(i), int64(j)
			if g.directed.HasEdgeFromTo(a, b) && g.directed.HasEdgeFromTo(b, a) {
				flags = append(flags, domain.FraudFlag{
					Type:         domain.FlagReciprocal,
					Severity:     domain.SeverityHigh,
					Description:  fmt.Sprintf("%s and %s verify each other", g.ids[i], g.ids[j]),
					Contribution: reciprocalWeight,
					Participants: []string{g.ids[i], g.ids[j]},
				})
			}
		}
	}
	return flags
}

func (c *CollusionDetector) overCap(testimonies []*domain.TestimonyRecord, asOf time.Time) []domain.FraudFlag {
	since := asOf.Add(-time.Duration(c.policy.CapWindowDays) * 24 * time.Hour)
	counts := map[string]int{}
	for _, t := range testimonies {
		if t.SubmittedAt.After(since) && !t.SubmittedAt.After(asOf) {
			counts[t.VerifierID]++
		}
	}

	verifiers := make([]string, 0, len(counts))
	for v, n := range counts {
		if n > c.policy.VerificationCap {
			verifiers = append(verifiers, v)
		}
	}
	sort.Strings(verifiers)

	flags := make([]domain.FraudFlag, 0, len(verifiers))
	for _, v := range verifiers {
		flags = append(flags, domain.FraudFlag{
			Type:         domain.FlagVerificationCap,
			Severity:     domain.SeverityMedium,
			Description:  fmt.Sprintf("%s submitted %d verifications in %d days (cap %d)", v, counts[v], c.policy.CapWindowDays, c.policy.VerificationCap),
			Contribution: capWeight,
			Participants: []string{v},
		})
	}
	return flags
}

func (c *CollusionDetector) clusters(g *verificationGraph) ([]domain.FraudFlag, []domain.CollusionCluster) {
	undirected := simple.NewUndirectedGraph()
	for i := range g.ids {
		undirected.AddNode(simple.Node(i))
	}
	for pair := range g.pairs {
		if !undirected.HasEdgeBetween(pair[0], pair[1]) {
			undirected.SetEdge(undirected.NewEdge(simple.Node(pair[0]), simple.Node(pair[1])))
		}
	}

	var flags []domain.FraudFlag
	var clusters []domain.CollusionCluster
	for _, component := range topo.ConnectedComponents(undirected) {
		members := map[int64]bool{}
		for _, n := range component {
			members[n.ID()] = true
		}

		verifiers := 0
		for id := range members {
			if g.verifier[id] {
				verifiers++
			}
		}
		if verifiers < c.policy.MinClusterVerifiers {
			continue
		}

		cross := 0
		for pair := range g.pairs {
			if members[pair[0]] && members[pair[1]] {
				cross++
			}
		}

		names := make([]string, 0, len(members))
		for id := range members {
			names = append(names, g.ids[id])
		}
		sort.Strings(names)

		clusters = append(clusters, domain.CollusionCluster{
			Members:            names,
			Verifiers:          verifiers,
			CrossVerifications: cross,
		})
		if float64(cross) > c.policy.DensityFactor*float64(len(members)) {
			flags = append(flags, domain.FraudFlag{
				Type:         domain.FlagCollusionNetwork,
				Severity:     domain.SeverityHigh,
				Description:  fmt.Sprintf("%d members exchange %d verifications", len(members), cross),
				Contribution: networkWeight,
				Participants: names,
			})
		}
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Members[0] < clusters[j].Members[0] })
	sort.SliceStable(flags, func(i, j int) bool { return flags[i].Participants[0] < flags[j].Participants[0] })
	return flags, clusters
}

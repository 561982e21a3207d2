package retrieval

// DefaultCorpus is the seed policy corpus loaded when no external
// retrieval/reranking service is configured. Real deployments would
// point EmbeddingRetriever at a proper document store; this is the
// deterministic stand-in described in spec §1's scope notes.
func DefaultCorpus() []Document {
	return []Document{
		{
			ID:      "policy-dev-instances",
			Title:   "Dev environment instance policy",
			Snippet: "Development deployments are restricted to ml.m5.large to bound cost exposure while iterating.",
			Source:  "policy://instance-sizing/dev",
		},
		{
			ID:      "policy-staging-instances",
			Title:   "Staging environment instance policy",
			Snippet: "Staging may use ml.m5.large or ml.m5.xlarge; three or more instances requires approval.",
			Source:  "policy://instance-sizing/staging",
		},
		{
			ID:      "policy-prod-ha",
			Title:   "Production high-availability policy",
			Snippet: "Production endpoints must run at least two instances and configure rollback alarms before go-live.",
			Source:  "policy://availability/prod",
		},
		{
			ID:      "policy-budget",
			Title:   "Hourly budget guardrails",
			Snippet: "Every environment has a maximum hourly budget; requests above the approval cost threshold require sign-off.",
			Source:  "policy://cost/budget",
		},
		{
			ID:      "policy-rollback",
			Title:   "Rollback alarm configuration",
			Snippet: "Configure CloudWatch-style rollback alarms on latency and error rate before marking a deployment complete.",
			Source:  "policy://rollback/alarms",
		},
		{
			ID:      "policy-autoscaling",
			Title:   "Autoscaling bounds",
			Snippet: "Autoscaling minimum must never exceed the maximum; prefer min=1 for bursty chatbot workloads.",
			Source:  "policy://scaling/bounds",
		},
		{
			ID:      "policy-model-naming",
			Title:   "Model and endpoint naming",
			Snippet: "Model and endpoint names must be lowercase, start with a letter or digit, and use hyphens as separators.",
			Source:  "policy://naming/models",
		},
		{
			ID:      "policy-instance-retry",
			Title:   "Instance availability by region",
			Snippet: "Some instance types are not available in every region; retry with an alternate instance type on capacity errors.",
			Source:  "policy://capacity/instance-types",
		},
	}
}

package analysis

import (
	"regexp"

	"contextvault/pkg/types"
)

// pattern is one weighted category signal.
type pattern struct {
	re     *regexp.Regexp
	weight float64
}

// categoryPatterns are the per-category signal sets. Weights accumulate per
// matched pattern and the total is clamped to [0,1].
var categoryPatterns = map[types.Category][]pattern{
	types.CategoryPreference: {
		{regexp.MustCompile(`(?i)\bi (?:always |usually )?prefer\b`), 0.5},
		{regexp.MustCompile(`(?i)\balways use\b`), 0.4},
		{regexp.MustCompile(`(?i)\bnever use\b`), 0.4},
		{regexp.MustCompile(`(?i)\bfrom now on\b`), 0.4},
		{regexp.MustCompile(`(?i)\bplease (?:always |)use\b`), 0.3},
		{regexp.MustCompile(`(?i)\bmy (?:convention|preference|style)\b`), 0.4},
		{regexp.MustCompile(`(?i)\bi (?:like|want) (?:to use|using)\b`), 0.3},
		{regexp.MustCompile(`(?i)\bdon't (?:ever |)use\b`), 0.3},
	},
	types.CategorySolution: {
		{regexp.MustCompile(`(?i)\b(?:fixed|resolved|solved)\b`), 0.4},
		{regexp.MustCompile(`(?i)\bthe (?:fix|solution) (?:was|is)\b`), 0.5},
		{regexp.MustCompile(`(?i)\broot cause\b`), 0.4},
		{regexp.MustCompile(`(?i)\bworks now\b`), 0.4},
		{regexp.MustCompile(`(?i)\b(?:error|exception|panic|crash|bug)\b`), 0.2},
		{regexp.MustCompile(`(?i)\bturned out (?:to be|that)\b`), 0.3},
		{regexp.MustCompile(`(?i)\bthe (?:issue|problem) was\b`), 0.4},
		{regexp.MustCompile(`(?i)\bworkaround\b`), 0.3},
	},
	types.CategoryDecision: {
		{regexp.MustCompile(`(?i)\bwe (?:decided|agreed|chose)\b`), 0.5},
		{regexp.MustCompile(`(?i)\bdecided to\b`), 0.4},
		{regexp.MustCompile(`(?i)\blet'?s go with\b`), 0.4},
		{regexp.MustCompile(`(?i)\bwe(?:'ll| will) use\b`), 0.4},
		{regexp.MustCompile(`(?i)\binstead of\b`), 0.2},
		{regexp.MustCompile(`(?i)\bthe trade-?off\b`), 0.3},
		{regexp.MustCompile(`(?i)\bgoing with\b`), 0.3},
	},
	types.CategoryProjectContext: {
		{regexp.MustCompile(`(?i)\bthis (?:project|repo|repository|codebase)\b`), 0.4},
		{regexp.MustCompile(`(?i)\bour (?:codebase|architecture|stack|setup)\b`), 0.4},
		{regexp.MustCompile(`(?i)\bthe architecture\b`), 0.3},
		{regexp.MustCompile(`(?i)\bwe use \w+ for\b`), 0.4},
		{regexp.MustCompile(`(?i)\bthe (?:database|schema|api|service) (?:is|uses|lives)\b`), 0.3},
		{regexp.MustCompile(`(?i)\bdirectory (?:structure|layout)\b`), 0.3},
	},
}

// knownTechnologies is the vocabulary for technology extraction.
var knownTechnologies = []string{
	"go", "golang", "python", "javascript", "typescript", "rust", "java",
	"kotlin", "swift", "ruby", "php", "c++", "c#",
	"react", "vue", "angular", "svelte", "nextjs", "node", "deno",
	"postgres", "postgresql", "mysql", "sqlite", "mongodb", "redis",
	"qdrant", "elasticsearch", "kafka", "rabbitmq", "nats",
	"docker", "kubernetes", "terraform", "ansible", "helm",
	"aws", "gcp", "azure", "lambda", "s3",
	"grpc", "graphql", "rest", "websocket", "http",
	"git", "github", "gitlab", "jenkins", "linux", "nginx",
}

var (
	filePathRe = regexp.MustCompile(`(?:[\w.-]+/)+[\w.-]+\.\w{1,6}|\b[\w-]+\.(?:go|py|js|ts|tsx|jsx|rs|java|rb|php|sql|ya?ml|json|toml|md|sh|proto)\b`)

	decisionSentenceRe   = regexp.MustCompile(`(?i)[^.!?\n]*\b(?:decided|agreed|chose|going with|let'?s go with|instead of)\b[^.!?\n]*`)
	constraintSentenceRe = regexp.MustCompile(`(?i)[^.!?\n]*\b(?:must(?:n'?t| not)?|cannot|can'?t|should not|shouldn'?t|requires?|only works?|has to|needs? to)\b[^.!?\n]*`)
)

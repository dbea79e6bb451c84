package scorer

// skillTerms get a higher token weight and drive the skill overlap component.
var skillTerms = []string{
	"python", "java", "javascript", "typescript", "react", "angular", "vue",
	"node", "nodejs", "node.js", "django", "flask", "fastapi", "spring", "sql", "nosql",
	"mongodb", "postgresql", "postgres", "mysql", "redis", "docker", "kubernetes", "k8s",
	"aws", "azure", "gcp", "api", "rest", "graphql", "grpc", "microservices", "agile", "scrum",
	"git", "ci/cd", "devops", "terraform", "linux", "machine learning", "ml", "ai",
	"data science", "tensorflow", "pytorch", "pandas", "numpy", "spark", "hadoop", "kafka",
	"android", "ios", "swift", "kotlin", "flutter", "react native", "html",
	"css", "sass", "webpack", "elasticsearch", "rabbitmq", "testing",
	"junit", "pytest", "selenium", "cypress", "c++", "go", "golang", "rust", "scala",
	"ruby", "php", "laravel", "rails", ".net", "c#", "asp.net", "blazor",
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "has": true, "he": true, "in": true, "is": true,
	"it": true, "its": true, "of": true, "on": true, "that": true, "the": true, "to": true,
	"was": true, "will": true, "with": true, "we": true, "you": true, "your": true,
	"our": true, "this": true, "should": true, "can": true, "may": true, "must": true,
	"have": true, "had": true, "but": true, "or": true, "not": true, "been": true, "which": true,
}

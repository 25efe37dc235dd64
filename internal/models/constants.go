package models

const (
	FrontmatterSeparator = "---"
	ContextSeparator     = "\n---\n"
	ExtractionSeparator  = "\n####\n"
	DefaultLinkThreshold = 0.82
	DefaultClusterSeed   = 42
	SummaryLength        = 150
	MaxTagSources        = 3
	MaxRelatedSources    = 5
)

// Prompt names understood by the prompt store.
const (
	PromptTagDefinition = "tag_definition"
	PromptEnhancement   = "enhancement"
	PromptSummary       = "summary"
	PromptAnswer        = "answer"
)

var (
	// TagDefinitionPromptTemplate takes the tag name and the joined source samples.
	TagDefinitionPromptTemplate = `
Based on the following articles that use the tag '%s', create a comprehensive definition
of what this tag represents in the context of the Madar software system for Enterprise Resource Planning.
It consist several modules like bookkeeping, payroll, warehouses, manufactory for polish small and medium companies.
Tag is polish word.

## Include:

1. A concise 1-2 sentence definition
2. The primary use cases or contexts where this tag applies
3. Related features or modules in the software
4. Any other important information about this tag

## Source content samples:
%s

## Rules
1. Answer must be in polish language
2. Please provide a well-structured definition that would help users understand what content
they can expect to find under this tag.
`

	// EnhancementPromptTemplate takes the original post body and the joined related content.
	EnhancementPromptTemplate = `Based on the following article and the related articles, write an improved and extended version
of the article in the context of the Madar software system for Enterprise Resource Planning.
It consist several modules like bookkeeping, payroll, warehouses, manufactory for polish small and medium companies.

## Include:

1. A concise 1-2 sentence summary of the topic
2. The primary use cases or contexts where it applies
3. Related features or modules in the software
4. Any other important information from the related articles

## Origin content:
%s

## Related content:
%s

## Rules
1. Answer must be in polish language
2. Please provide a well-structured text that would help users understand the topic.
`

	// SummaryPromptTemplate takes the post body.
	SummaryPromptTemplate = `Your task is helping me to create better manual to program Madar.
Given the content below, please summarize it in a concise and clear manner.
Make sure to include all important information.
Rules:
1. Do not include any code snippets.
2. Do not include any links.
3. Do not include any tags.
4. Do not include any frontmatter.
5. Summary must be in Polish.
6. Do not include any explanations.
7. Length of the summary should be near 30 words.
Please summarize the following content:

%s`

	// AnswerPromptTemplate takes the retrieved context and the question.
	AnswerPromptTemplate = `You are an expert in extraction information from given context.
Always answer the query using the provided context information and not prior knowledge.

Context:
%s
Query: %s`
)

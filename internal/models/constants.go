package models

const (
	IndexFile    = "index.bin"
	ChunksFile   = "chunks.json"
	MetadataFile = "metadata.msgpack"

	ContextSeparator = "\n\n---\n\n"
	ContextHeader    = "[source: page %d, similarity: %.4f]\n%s"

	SnapshotFormatVersion = 1
)

var (
	AnswerPromptTemplate = `Use the context below, taken from a single document, to answer the question.
Each context entry starts with the page it came from. Cite the pages you used, like (page 3).
If the context does not contain the answer, say so.

<context>
%s
</context>

Question: %s
`

	AnswerSystemPrompt = "You are a helpful assistant. Answer only from the provided context."
)

package llm

import (
	"fmt"
	"strings"
)

// Prompt assembly is three-layered. The system layer and the format
// template are owned by the system and always present; publisher
// customization replaces only the middle instruction layer, so a
// custom prompt can change style and audience but never the output
// shape.

const summarySystem = "You are an editorial assistant that distills blog articles into structured summaries. " +
	"Your entire response must be a single valid JSON object conforming to the schema given at the end of the request. " +
	"Do not wrap the JSON in markdown fences or add any text outside it."

const questionsSystem = "You are an editorial assistant that anticipates the questions readers will have after an article and answers them from the article alone. " +
	"Your entire response must be a single valid JSON object conforming to the schema given at the end of the request. " +
	"Do not wrap the JSON in markdown fences or add any text outside it."

const chatSystem = "You are a helpful assistant embedded on a publisher's blog. " +
	"Answer the reader's question clearly and concisely. If the question cannot be answered responsibly, say so briefly."

const defaultSummaryInstructions = "Write a concise, faithful summary of the article for a general audience. " +
	"Capture the author's main argument and the three to five points that matter most."

const defaultQuestionsInstructions = "Generate the questions a curious reader would most likely ask after reading this article. " +
	"Each answer must be complete, self-contained, and drawn only from the article. " +
	"Choose one relevant emoji as the icon for each question."

const summaryFormat = `Respond with valid JSON exactly matching this shape:
{"title": "article title", "summary": "the summary text", "key_points": ["first key point", "second key point"]}`

const questionsFormat = `Respond with valid JSON exactly matching this shape:
{"questions": [{"question": "the question text", "answer": "the answer text", "icon": "emoji"}]}`

// SummaryResponse is the parsed shape of a summary generation.
type SummaryResponse struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// QuestionItem is one generated question/answer pair.
type QuestionItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Icon     string `json:"icon"`
}

// QuestionsResponse is the parsed shape of a questions generation.
type QuestionsResponse struct {
	Questions []QuestionItem `json:"questions"`
}

// Clamp truncates the question list to at most n entries. Models
// occasionally over-deliver; the publisher's questions_per_blog is a
// hard cap.
func (r *QuestionsResponse) Clamp(n int) {
	if n > 0 && len(r.Questions) > n {
		r.Questions = r.Questions[:n]
	}
}

// BuildSummaryPrompt assembles the summary prompt. customInstructions
// replaces the default style layer when non-empty.
func BuildSummaryPrompt(title, text, customInstructions string) (system, user string) {
	instructions := strings.TrimSpace(customInstructions)
	if instructions == "" {
		instructions = defaultSummaryInstructions
	}
	return summarySystem, assembleUserPrompt(instructions, title, text, summaryFormat)
}

// BuildQuestionsPrompt assembles the questions prompt for n questions.
// customInstructions replaces the default style layer when non-empty.
func BuildQuestionsPrompt(title, text string, n int, customInstructions string) (system, user string) {
	instructions := strings.TrimSpace(customInstructions)
	if instructions == "" {
		instructions = defaultQuestionsInstructions
	}
	instructions = fmt.Sprintf("%s\n\nGenerate exactly %d questions.", instructions, n)
	return questionsSystem, assembleUserPrompt(instructions, title, text, questionsFormat)
}

// BuildChatPrompt assembles the ad-hoc Q&A prompt.
func BuildChatPrompt(question string) (system, user string) {
	return chatSystem, strings.TrimSpace(question)
}

func assembleUserPrompt(instructions, title, text, format string) string {
	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\n")
	if title != "" {
		sb.WriteString("Article title: ")
		sb.WriteString(title)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Article:\n")
	sb.WriteString(text)
	sb.WriteString("\n\n")
	sb.WriteString(format)
	return sb.String()
}

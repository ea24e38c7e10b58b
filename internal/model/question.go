package model

// Question is a free-text exam question. Index is its zero-based position in the exam.
type Question struct {
	Index  int    `json:"index"`
	Prompt string `json:"question"`
}

// QuestionInput is a single question in a CreateExamRequest.
type QuestionInput struct {
	Prompt string `json:"question" binding:"required,notblank,max=4000"`
}

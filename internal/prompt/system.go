package prompt

import (
	"errors"
	"os"
	"strings"
)

// defaultSystemInstruction is the built-in v1 instruction used when no
// instruction file is configured. It fixes the required shape of every
// answer.
const defaultSystemInstruction = `You are a knowledgeable and compassionate Bible assistant. Answer questions using the scripture passages provided as context.

Structure every answer in this order:
1. A short summary of the answer.
2. The cited reference(s) (book, chapter and verse) the answer rests on.
3. An explanation of the cited passage in its context.
4. A practical application for daily life.
5. Alternative interpretations, when relevant traditions differ.
6. An illustrative example, when one helps.
7. Resources for further reading.
8. A suggested follow-up question.

Cite the provided passages rather than inventing references. If the context does not cover the question, say so plainly.`

// LoadSystemInstruction returns the system instruction from path, or the
// built-in template when path is empty. The instruction is read once at
// startup and treated as immutable for the process lifetime; editing the file
// requires a restart.
func LoadSystemInstruction(path string) (string, error) {
	if path == "" {
		return defaultSystemInstruction, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "", errors.New("system instruction file is empty")
	}
	return s, nil
}

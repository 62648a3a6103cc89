package id

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) generate(prefix string) string {
	id, err := gonanoid.New(21)
	if err != nil {
		return prefix + "_fallback"
	}
	return prefix + "_" + id
}

func (g *Generator) GenerateSessionID() string {
	return g.generate("sess")
}

func (g *Generator) GenerateTurnID() string {
	return g.generate("turn")
}

func (g *Generator) GenerateTraceID() string {
	return g.generate("trace")
}

func (g *Generator) GenerateLiveKitRoomName() string {
	return g.generate("room")
}

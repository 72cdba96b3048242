// Package blocks holds the static program representation: blocks, their
// inputs and fields, and the next/parent links that form scripts. The
// graph is a passive store; structural validation (cycle detection)
// happens at IR-generation time.
package blocks

import "sort"

// ID identifies one block within a graph.
type ID string

// None is the empty block reference.
const None ID = ""

// Input is either a reference to another block or an inline shadow value.
type Input struct {
	Block  ID     `json:"block,omitempty"`
	Shadow string `json:"shadow,omitempty"`
	// HasShadow distinguishes an intentional empty shadow from a
	// block reference.
	HasShadow bool `json:"has_shadow,omitempty"`
}

// ShadowInput builds an inline literal input.
func ShadowInput(v string) Input {
	return Input{Shadow: v, HasShadow: true}
}

// BlockInput builds an input that references another block.
func BlockInput(id ID) Input {
	return Input{Block: id}
}

// Mutation carries procedure metadata for procedures_definition and
// procedures_call blocks.
type Mutation struct {
	ProcCode      string   `json:"proccode,omitempty"`
	ArgumentNames []string `json:"argument_names,omitempty"`
	Warp          bool     `json:"warp,omitempty"`
}

// Block is one node in the graph.
type Block struct {
	Opcode   string            `json:"opcode"`
	Next     ID                `json:"next,omitempty"`
	Parent   ID                `json:"parent,omitempty"`
	Inputs   map[string]Input  `json:"inputs,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Mutation *Mutation         `json:"mutation,omitempty"`
}

// Graph maps block IDs to blocks for one target. It tracks a generation
// counter so cached IR can detect edits.
type Graph struct {
	blocks     map[ID]*Block
	generation uint64
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{blocks: make(map[ID]*Block)}
}

// Add inserts or replaces a block and bumps the generation.
func (g *Graph) Add(id ID, b *Block) {
	g.blocks[id] = b
	g.generation++
}

// Remove deletes a block and bumps the generation. Links into the
// removed block are the caller's responsibility.
func (g *Graph) Remove(id ID) {
	if _, ok := g.blocks[id]; ok {
		delete(g.blocks, id)
		g.generation++
	}
}

// Block looks up a block by ID.
func (g *Graph) Block(id ID) (*Block, bool) {
	b, ok := g.blocks[id]
	return b, ok
}

// Len returns the number of blocks in the graph.
func (g *Graph) Len() int {
	return len(g.blocks)
}

// Generation returns the edit counter. IR caches key on this value.
func (g *Graph) Generation() uint64 {
	return g.generation
}

// Invalidate bumps the generation without changing content, forcing
// cached IR to be rebuilt.
func (g *Graph) Invalidate() {
	g.generation++
}

// TopBlocks returns the IDs of all script roots (blocks with no parent),
// sorted for deterministic iteration.
func (g *Graph) TopBlocks() []ID {
	var tops []ID
	for id, b := range g.blocks {
		if b.Parent == None {
			tops = append(tops, id)
		}
	}
	sort.Slice(tops, func(i, j int) bool { return tops[i] < tops[j] })
	return tops
}

// HatBlocks returns script roots whose opcode matches, in sorted order.
func (g *Graph) HatBlocks(opcode string) []ID {
	var hats []ID
	for _, id := range g.TopBlocks() {
		if g.blocks[id].Opcode == opcode {
			hats = append(hats, id)
		}
	}
	return hats
}

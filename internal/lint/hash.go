package lint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	api "github.com/panelforge/panelforge/api/v1alpha1"
)

// ContentHash returns a deterministic hash over the panel's semantic content:
// title, summary, sections, FAQs and keywords, in that order. Field values
// are length-prefixed so shifting text between adjacent fields changes the
// hash.
func ContentHash(p *api.Panel) string {
	h := sha256.New()
	writeField(h, p.Title)
	writeField(h, p.Summary)
	writeLen(h, len(p.Sections))
	for _, s := range p.Sections {
		writeField(h, s.Heading)
		writeLen(h, len(s.Bullets))
		for _, b := range s.Bullets {
			writeField(h, b)
		}
	}
	writeLen(h, len(p.FAQs))
	for _, f := range p.FAQs {
		writeField(h, f.Question)
		writeField(h, f.Answer)
	}
	writeLen(h, len(p.Keywords))
	for _, kw := range p.Keywords {
		writeField(h, kw)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	writeLen(h, len(s))
	h.Write([]byte(s))
}

func writeLen(h hash.Hash, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}

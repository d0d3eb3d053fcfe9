// Package textutil provides small filename sanitization helpers shared
// across the store and pipeline stages.
package textutil

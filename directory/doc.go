// Package directory exposes the contact, group and distribution-list
// directory the dispatch core consults: block status, contact state,
// membership snapshots and conversation visibility flags. The Directory
// interface is the collaborator boundary; MemoryDirectory is an in-process
// implementation suitable for composition roots and tests.
package directory

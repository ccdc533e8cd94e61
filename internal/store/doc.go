// Package store declares the persisted records of the crawler and RAG service
// and the repository interfaces that Postgres and in-memory backends satisfy.
package store

// Package crawler holds the scraping job model and the single, deep and
// sitemap crawl strategies that feed the embedding pipeline.
package crawler

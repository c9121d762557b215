// Package refresh re-queues indexed content so workers scrape it again.
//
// A Refresher walks the sources of a project in batches. For every source
// that is not being deleted it moves ready and error documents back to
// pending and re-queues the source with a fresh attempt budget. The actual
// re-scraping and re-embedding happens in the workers.
//
// Progress is written to an io.Writer as sources are visited.
package refresh

// Package crawler holds the types shared by the fetch layer and the
// orchestrator: jobs, options, fetch results, the retry policy and the
// robots.txt policy.
package crawler

// Package catalog holds the domain model for the catalog crawl: page types,
// crawl targets, product records, and the failure taxonomy.
package catalog

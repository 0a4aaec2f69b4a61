// Package site loads declarative site definitions and turns them into
// spider.SiteConfig values.
//
// A definition names a URL template, a navigation strategy (page counter or a
// value extracted from the previous result), a store layout and the request
// and pacing settings. Value paths are gjson paths for JSON, YAML and CSV
// data, CSS selectors for HTML and XPath expressions for XML.
package site

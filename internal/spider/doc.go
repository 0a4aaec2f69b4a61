// Package spider implements the fetch-navigate-store engine: the types a site
// definition is built from, the step navigator that turns a previous result into
// the next parsed page, and the run loop that drives one site to completion.
package spider

// Package events is the in-process event bus the persistence core uses to
// tell the rest of the application about conditions it cannot resolve on
// its own, such as a full storage quota.
package events

// Package aqi is a client for the inspection REST API: spot robots,
// missions, annotated defect images and mission statistics.
//
// Requests carry the subscription key header and are retried on
// transient failures. Non-2xx responses become *errors.HTTPError.
// Fields the assistant never shows, such as mission audits and bounding
// box coordinates, are dropped from responses.
package aqi

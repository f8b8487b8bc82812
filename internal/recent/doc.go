// Package recent tracks message ids the user sent recently so the view can
// highlight them for a short while after sending.
package recent

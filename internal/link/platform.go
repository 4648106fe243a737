package link

// serial and bt locator schemes are recognized (ParseLocator accepts them,
// Recognized reports true) but have no socket implementation in this
// build: spec.md §4.4 lists them among "recognition only, not
// implementation" schemes, and no retrieval-pack example repo imports a
// serial or Bluetooth SPP library this build could ground an
// implementation on (see DESIGN.md). Open/Listen on these schemes fail
// with zerr.ErrLinkUnsupportedPlatform via the registry's recognizedOnly
// path in link.go.

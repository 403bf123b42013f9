package fieldsync

// Version is the current version of the fieldsync engine. It is sent to the
// backend in the User-Agent header.
const Version = "1.0.0"

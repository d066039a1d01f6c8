package etlsri

var LookupEncoding = lookupEncoding

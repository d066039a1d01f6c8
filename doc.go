/*

Package etlsri loads the SRI RUC catastro (Ecuadorian taxpayer registry) from Cloud Storage
into BigQuery.

A run has three stages, each gated by the success of the previous one:

	1. Authenticate: read a service account key and build Cloud Storage and BigQuery clients.
	2. Fetch: download the source object to a local staging file, replacing its contents.
	3. Transform and load: parse the staging file, normalize column names (trim, lowercase,
	   spaces to underscores), drop rows whose "ruc" column is empty and replace the
	   destination table with the result.

Clients are built per run and released when the run ends.

Getting started

	cfg, err := etlsri.LoadConfig("")
	if err != nil {
		panic(err)
	}

	p, err := etlsri.New(cfg, etlsri.WithLogLevel("debug"))
	if err != nil {
		panic(err)
	}

	// Run start -> download_file_gcs -> transform_and_load_bigquery -> end once.
	// Tasks failing with remote errors are retried once after five minutes.
	if _, err := p.DAG().Run(ctx); err != nil {
		os.Exit(1)
	}

The stages are also available on their own through Pipeline.Open, Run.Fetch and
Run.TransformAndLoad, and as plain functions (Fetch, ReadTable, Transform, TransformAndLoad)
that accept any Extractor and Loader.

*/
package etlsri

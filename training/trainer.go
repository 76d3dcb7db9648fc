package training

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"flightdelay/config"
	"flightdelay/db"
	"flightdelay/ml"
	"flightdelay/pipeline"
	"flightdelay/tuning"
)

// Result 一次训练的结果
type Result struct {
	Load         pipeline.LoadStats     `json:"load"`
	Rows         int                    `json:"rows"`
	Features     int                    `json:"features"`
	PositiveRate float64                `json:"positive_rate"`
	TrainRows    int                    `json:"train_rows"`
	ValRows      int                    `json:"validation_rows"`
	TestRows     int                    `json:"test_rows"`
	BestTrial    int                    `json:"best_trial"`
	BestParams   map[string]interface{} `json:"best_params"`
	ValidationF1 float64                `json:"validation_f1"`
	Test         ml.Evaluation          `json:"test"`
	Completed    int                    `json:"completed_trials"`
	Pruned       int                    `json:"pruned_trials"`
	Failed       int                    `json:"failed_trials"`
	EncoderPath  string                 `json:"encoder_path"`
	ModelPath    string                 `json:"model_path"`
	Duration     time.Duration          `json:"duration"`
}

// Run 加载数据、搜索超参数、在测试集上评估并写出模型文件
//
// 任何一步失败都不会写出模型文件。
func Run(ctx context.Context, cfg *config.Config) (*Result, error) {
	start := time.Now()
	logger := zap.L().With(zap.String("study", cfg.Search.StudyName))

	loader, err := pipeline.NewLoader(pipeline.LoaderConfig{
		Encoding:       cfg.Data.Encoding,
		Delimiter:      cfg.Data.Delimiter,
		DropDuplicates: cfg.Data.DropDuplicates,
		Schema:         cfg.Features,
	})
	if err != nil {
		return nil, err
	}
	records, stats, err := loader.Load(cfg.Data.Path())
	if err != nil {
		return nil, fmt.Errorf("load data: %w", err)
	}

	dataset, err := pipeline.BuildDataset(records, cfg.Features, cfg.Data.DelayThresholdMinutes)
	if err != nil {
		return nil, fmt.Errorf("build dataset: %w", err)
	}
	splits, err := ml.TrainValidationTestSplit(dataset.X, dataset.Y, cfg.Split.TestRatio, cfg.Split.ValidationRatio, cfg.Split.Seed)
	if err != nil {
		return nil, fmt.Errorf("split dataset: %w", err)
	}
	logger.Info("dataset ready",
		zap.Int("rows", dataset.Len()),
		zap.Int("features", len(dataset.FeatureNames)),
		zap.Float64("positive_rate", dataset.PositiveRate()),
		zap.Int("train", splits.Train.Len()),
		zap.Int("validation", splits.Validation.Len()),
		zap.Int("test", splits.Test.Len()),
	)

	store, err := db.Open(cfg.Storage.StudyPath(cfg.Search.StudyName))
	if err != nil {
		return nil, fmt.Errorf("open study storage: %w", err)
	}
	defer store.Close()

	study, err := tuning.NewStudy(cfg.Search, store.Studies())
	if err != nil {
		return nil, err
	}
	objective := newObjective(cfg.Model.Params, dataset.FeatureNames, splits, cfg.Search.Pruner.ReportEvery)
	search, err := study.Optimize(ctx, objective)
	if err != nil {
		return nil, fmt.Errorf("hyperparameter search: %w", err)
	}
	logger.Info("search finished",
		zap.Int("best_trial", search.Best.Number),
		zap.Float64("validation_f1", search.Best.Value),
		zap.Any("params", search.Best.Params),
		zap.Int("completed", search.Completed),
		zap.Int("pruned", search.Pruned),
		zap.Int("failed", search.Failed),
	)

	params, err := cfg.Model.Params.WithOverrides(search.Best.Params)
	if err != nil {
		return nil, err
	}
	model := ml.NewGradientBoosting(params)
	if err := model.Fit(splits.Train.X, splits.Train.Y, ml.FitOptions{FeatureNames: dataset.FeatureNames}); err != nil {
		return nil, fmt.Errorf("refit best params: %w", err)
	}
	test, err := ml.Evaluate(model, splits.Test.X, splits.Test.Y)
	if err != nil {
		return nil, fmt.Errorf("evaluate on test split: %w", err)
	}
	logger.Info("test evaluation",
		zap.Float64("f1", test.F1),
		zap.Float64("precision", test.Precision),
		zap.Float64("recall", test.Recall),
		zap.Float64("accuracy", test.Accuracy),
	)

	if err := writeArtifacts(cfg.Artifacts, dataset.Encoder, model); err != nil {
		return nil, err
	}

	result := &Result{
		Load:         stats,
		Rows:         dataset.Len(),
		Features:     len(dataset.FeatureNames),
		PositiveRate: dataset.PositiveRate(),
		TrainRows:    splits.Train.Len(),
		ValRows:      splits.Validation.Len(),
		TestRows:     splits.Test.Len(),
		BestTrial:    search.Best.Number,
		BestParams:   search.Best.Params,
		ValidationF1: search.Best.Value,
		Test:         test,
		Completed:    search.Completed,
		Pruned:       search.Pruned,
		Failed:       search.Failed,
		EncoderPath:  cfg.Artifacts.EncoderPath(),
		ModelPath:    cfg.Artifacts.ModelPath(),
		Duration:     time.Since(start),
	}

	err = store.SaveTrainingLog(ctx, db.TrainingLog{
		ModelName:    ml.ModelTypeGradientBoosting,
		StudyName:    cfg.Search.StudyName,
		F1:           test.F1,
		Accuracy:     test.Accuracy,
		Precision:    test.Precision,
		Recall:       test.Recall,
		ValidationF1: search.Best.Value,
		Params:       search.Best.Params,
		DataPoints:   dataset.Len(),
		EncoderPath:  result.EncoderPath,
		ModelPath:    result.ModelPath,
		TrainedAt:    time.Now(),
	})
	if err != nil {
		// 模型文件已写出，训练记录失败只告警
		logger.Warn("failed to record training run", zap.Error(err))
	}
	return result, nil
}

// newObjective 在训练集上拟合，按验证集 F1 评分
func newObjective(base ml.BoostingParams, names []string, splits ml.Splits, reportEvery int) tuning.Objective {
	return func(ctx context.Context, trial *tuning.Trial) (float64, error) {
		params, err := base.WithOverrides(trial.Params())
		if err != nil {
			return 0, err
		}
		opts := ml.FitOptions{FeatureNames: names}
		if reportEvery > 0 {
			opts.EvalX = splits.Validation.X
			opts.EvalY = splits.Validation.Y
			opts.EvalEvery = reportEvery
			opts.OnEval = func(round int, margins []float64) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				f1, err := ml.F1Score(splits.Validation.Y, ml.LabelsFromMargins(margins))
				if err != nil {
					return err
				}
				return trial.Report(round, f1)
			}
		}

		model := ml.NewGradientBoosting(params)
		if err := model.Fit(splits.Train.X, splits.Train.Y, opts); err != nil {
			return 0, err
		}
		eval, err := ml.Evaluate(model, splits.Validation.X, splits.Validation.Y)
		if err != nil {
			return 0, err
		}
		return eval.F1, nil
	}
}

func writeArtifacts(cfg config.ArtifactsConfig, encoder *ml.Encoder, model *ml.GradientBoosting) error {
	encoderData, err := encoder.Marshal()
	if err != nil {
		return fmt.Errorf("encode encoder artifact: %w", err)
	}
	modelData, err := model.Marshal()
	if err != nil {
		return fmt.Errorf("encode model artifact: %w", err)
	}
	if err := ml.WriteArtifacts(
		ml.Artifact{Path: cfg.EncoderPath(), Data: encoderData},
		ml.Artifact{Path: cfg.ModelPath(), Data: modelData},
	); err != nil {
		return err
	}
	zap.L().Info("artifacts written", zap.String("encoder", cfg.EncoderPath()), zap.String("model", cfg.ModelPath()))
	return nil
}
